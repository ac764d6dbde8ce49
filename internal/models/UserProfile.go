package models

type UserProfile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}
