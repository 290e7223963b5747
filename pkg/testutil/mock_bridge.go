// Package testutil provides testing utilities for the panel hub. MockBridge
// is an in-process Homebridge UI API stand-in covering the endpoints the
// runtime consumes: login, accessory listing, room layout, characteristic
// mutation and single-accessory read-back.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// Accessory is a raw accessory record the mock serves. Tests fill in only
// the fields under test.
type Accessory struct {
	UniqueID               string           `json:"uniqueId"`
	AID                    int              `json:"aid"`
	IID                    int              `json:"iid"`
	UUID                   string           `json:"uuid"`
	Type                   string           `json:"type"`
	HumanType              string           `json:"humanType"`
	ServiceName            string           `json:"serviceName"`
	ServiceCharacteristics []Characteristic `json:"serviceCharacteristics"`
}

// Characteristic mirrors one HomeKit characteristic on the wire.
type Characteristic struct {
	Type     string `json:"type"`
	Value    any    `json:"value"`
	CanWrite bool   `json:"canWrite"`
}

// Room is one entry of the layout payload.
type Room struct {
	Name     string        `json:"name"`
	Services []RoomService `json:"services"`
}

// RoomService pins an accessory into a room.
type RoomService struct {
	UniqueID string `json:"uniqueId"`
	AID      int    `json:"aid"`
	IID      int    `json:"iid"`
	UUID     string `json:"uuid"`
}

// SetCall records one characteristic mutation received by the mock.
type SetCall struct {
	DeviceID           string
	CharacteristicType string
	Value              any
}

// MockBridge is a configurable fake Homebridge server.
type MockBridge struct {
	Server *httptest.Server

	mu sync.Mutex

	// Credentials the login endpoint accepts.
	Username string
	Password string

	// Token returned by login and required on authenticated endpoints.
	Token     string
	ExpiresIn int

	// Accessories served by the listing endpoint.
	Accessories []Accessory

	// Rooms served by the layout endpoint. LayoutStatus overrides the
	// response status when non-zero.
	Rooms        []Room
	LayoutStatus int

	// AccessoriesStatus overrides the listing status when non-zero.
	AccessoriesStatus int

	// LoginStatus overrides the login status when non-zero.
	LoginStatus int

	loginCount int
	setCalls   []SetCall
}

// NewMockBridge starts a mock bridge accepting the given credentials.
func NewMockBridge(username, password string) *MockBridge {
	b := &MockBridge{
		Username:  username,
		Password:  password,
		Token:     "mock-token",
		ExpiresIn: 28800,
	}
	b.Server = httptest.NewServer(http.HandlerFunc(b.handle))
	return b
}

// URL returns the bridge's base URL.
func (b *MockBridge) URL() string { return b.Server.URL }

// Close shuts the mock server down.
func (b *MockBridge) Close() { b.Server.Close() }

// LoginCount reports how many login requests the mock has served.
func (b *MockBridge) LoginCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loginCount
}

// SetCalls returns the characteristic mutations received so far.
func (b *MockBridge) SetCalls() []SetCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]SetCall(nil), b.setCalls...)
}

func (b *MockBridge) handle(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/auth/login":
		b.handleLogin(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/api/accessories":
		b.handleListAccessories(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/api/accessories/layout":
		b.handleLayout(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/accessories/"):
		b.handleAccessory(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (b *MockBridge) handleLogin(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.loginCount++
	status := b.LoginStatus
	username, password := b.Username, b.Password
	token, expiresIn := b.Token, b.ExpiresIn
	b.mu.Unlock()

	if status != 0 {
		http.Error(w, "login rejected", status)
		return
	}

	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil ||
		creds.Username != username || creds.Password != password {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"expires_in":   expiresIn,
	})
}

func (b *MockBridge) authorized(r *http.Request) bool {
	b.mu.Lock()
	token := b.Token
	b.mu.Unlock()
	return r.Header.Get("Authorization") == "Bearer "+token
}

func (b *MockBridge) handleListAccessories(w http.ResponseWriter, r *http.Request) {
	if !b.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	b.mu.Lock()
	status := b.AccessoriesStatus
	accessories := append([]Accessory(nil), b.Accessories...)
	b.mu.Unlock()

	if status != 0 {
		http.Error(w, "listing unavailable", status)
		return
	}
	writeJSON(w, http.StatusOK, accessories)
}

func (b *MockBridge) handleLayout(w http.ResponseWriter, r *http.Request) {
	if !b.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	b.mu.Lock()
	status := b.LayoutStatus
	rooms := append([]Room(nil), b.Rooms...)
	b.mu.Unlock()

	if status != 0 {
		http.Error(w, "layout unavailable", status)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

// handleAccessory serves GET (read-back) and PUT (mutation) for one device.
func (b *MockBridge) handleAccessory(w http.ResponseWriter, r *http.Request) {
	if !b.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	deviceID := strings.TrimPrefix(r.URL.Path, "/api/accessories/")

	switch r.Method {
	case http.MethodGet:
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, acc := range b.Accessories {
			if acc.UniqueID == deviceID {
				writeJSON(w, http.StatusOK, acc)
				return
			}
		}
		http.Error(w, "accessory not found", http.StatusNotFound)

	case http.MethodPut:
		var body struct {
			CharacteristicType string `json:"characteristicType"`
			Value              any    `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}

		b.mu.Lock()
		b.setCalls = append(b.setCalls, SetCall{
			DeviceID:           deviceID,
			CharacteristicType: body.CharacteristicType,
			Value:              body.Value,
		})
		b.mu.Unlock()

		writeJSON(w, http.StatusOK, map[string]any{"success": true})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
