// Package main generates an Ed25519 key pair for router or agent identities.
package main

import (
	"fmt"
	"log"

	"github.com/cory-johannsen/arena/internal/crypto"
)

func main() {
	pub, priv, err := crypto.GenerateKey()
	if err != nil {
		log.Fatalf("generating key: %v", err)
	}
	fmt.Printf("public:  %s\nprivate: %s\n", pub, priv)
}
