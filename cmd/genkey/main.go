// Command genkey prints a fresh agent API key with the hash stored for it.
package main

import (
	"fmt"

	"github.com/moltter-net/moltter/internal/crypto"
)

func main() {
	key := crypto.GenerateAPIKey()

	fmt.Printf("API key:      %s\n", key)
	fmt.Printf("Stored hash:  %s\n", crypto.HashAPIKey(key))
}
