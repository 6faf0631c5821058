package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidCustomer = errors.New("invalid customer")

// Customer is a registry entry created by staff. Entries are never edited or
// removed through the engine.
type Customer struct {
	ID       string            `json:"-"`
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func NewCustomer(name string, metadata map[string]string) (Customer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Customer{}, fmt.Errorf("%w: name is required", ErrInvalidCustomer)
	}
	return Customer{Name: name, Metadata: metadata}, nil
}

// Initial is the avatar letter used by the customer list.
func (c Customer) Initial() string {
	for _, r := range c.Name {
		return strings.ToUpper(string(r))
	}
	return "?"
}

func (c Customer) Encode() ([]byte, error) { return json.Marshal(c) }

func DecodeCustomer(id string, data []byte) (Customer, error) {
	var c Customer
	if err := json.Unmarshal(data, &c); err != nil {
		return Customer{}, fmt.Errorf("decode customer %s: %w", id, err)
	}
	c.ID = id
	return c, nil
}
