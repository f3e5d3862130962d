// Package bot connects chat platforms to the adventure engine. Each
// adapter owns one platform connection and maps chats onto session keys.
package bot

import "context"

type Bot interface {
	Start(ctx context.Context) error
	Broadcast(message string) error
}

type Config struct {
	Provider string
	Token    string
}
