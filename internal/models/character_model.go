package models

// Character is a catalog entry served from the in-memory cache.
type Character struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	IsPublic bool                   `json:"isPublic"`
	IsActive bool                   `json:"isActive"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// CharacterFilter narrows GetAll. Nil fields match everything.
type CharacterFilter struct {
	IsPublic *bool
	IsActive *bool
}
