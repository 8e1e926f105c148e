package user

import "time"

type User struct {
	Username   string    `json:"username"`
	LastActive time.Time `json:"lastActive"`
}
