package capi

import (
	"encoding/json"
	"fmt"
)

// Profile is the part of the /profile document the toolkit reads.
type Profile struct {
	Commander struct {
		ID      int64  `json:"id"`
		Name    string `json:"name"`
		Credits int64  `json:"credits"`
		Docked  bool   `json:"docked"`
	} `json:"commander"`
	LastSystem struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"lastSystem"`
	LastStarport struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"lastStarport"`
}

// ParseProfile decodes a /profile body.
func ParseProfile(body string) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, fmt.Errorf("capi: failed to decode profile: %w", err)
	}
	if p.Commander.Name == "" {
		return nil, ErrInvalidProfile
	}
	return &p, nil
}
