package domain

import (
	"encoding/json"
	"fmt"
)

// Settings is the store identity printed on invoices.
type Settings struct {
	StoreName string `json:"storeName,omitempty" yaml:"name"`
	Address   string `json:"address,omitempty" yaml:"address"`
	Phone     string `json:"phone,omitempty" yaml:"phone"`
}

func (s Settings) DisplayName() string {
	if s.StoreName == "" {
		return "My Store"
	}
	return s.StoreName
}

func (s Settings) DisplayAddress() string {
	if s.Address == "" {
		return "123 Business Rd, Commerce City"
	}
	return s.Address
}

func (s Settings) DisplayPhone() string {
	if s.Phone == "" {
		return "+1 234 567 890"
	}
	return s.Phone
}

func (s Settings) Encode() ([]byte, error) { return json.Marshal(s) }

func DecodeSettings(data []byte) (Settings, error) {
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}
