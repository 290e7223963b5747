package homebridge

import (
	"encoding/json"
	"fmt"
)

func decodeJSON(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Wire types for the Homebridge UI REST API. Only the fields the plugin
// reads are declared; everything else in the payloads is ignored.

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// accessory is one entry from GET /api/accessories.
type accessory struct {
	UniqueID               string           `json:"uniqueId"`
	AID                    int              `json:"aid"`
	IID                    int              `json:"iid"`
	UUID                   string           `json:"uuid"`
	ServiceType            string           `json:"type"`
	HumanType              string           `json:"humanType"`
	ServiceName            string           `json:"serviceName"`
	ServiceCharacteristics []characteristic `json:"serviceCharacteristics"`
}

// characteristic is a single HomeKit characteristic of an accessory. Value
// arrives as whatever JSON type the bridge chose to emit; canWrite reports
// whether the characteristic accepts mutations.
type characteristic struct {
	Type     string `json:"type"`
	Value    any    `json:"value"`
	CanWrite bool   `json:"canWrite"`
}

// setCharacteristicRequest is the body of PUT /api/accessories/{id}.
type setCharacteristicRequest struct {
	CharacteristicType string `json:"characteristicType"`
	Value              any    `json:"value"`
}

// layoutResponse is the room topology from GET /api/accessories/layout.
type layoutResponse struct {
	Rooms []layoutRoom `json:"rooms"`
}

type layoutRoom struct {
	Name     string          `json:"name"`
	Services []layoutService `json:"services"`
}

type layoutService struct {
	UniqueID string `json:"uniqueId"`
	AID      int    `json:"aid"`
	IID      int    `json:"iid"`
	UUID     string `json:"uuid"`
}
