// Witness Key Generator CLI
// Generates a secp256k1 signing key for a sidechain witness and prints the
// account identifier and public key to register in the witnesses contract.
// With -bls, it additionally generates the optional BLS12-381 companion
// key used for the aggregate signature artifact.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/certen/sidechain-node/pkg/crypto/blsagg"
	"github.com/certen/sidechain-node/pkg/crypto/signing"
)

func main() {
	path := flag.String("out", "", "path to write the generated private key (hex); prints to stdout if empty")
	withBLS := flag.Bool("bls", false, "also generate a BLS12-381 companion key")
	flag.Parse()

	km := signing.NewKeyManager(*path)
	key, err := km.LoadOrGenerate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("account:    %s\n", key.Account())
	fmt.Printf("signingKey: %s\n", key.PublicKey().Hex())
	if *path == "" {
		fmt.Printf("privateKey: %s\n", key.Hex())
	} else {
		fmt.Printf("privateKey written to %s\n", *path)
	}

	if *withBLS {
		blsPriv, blsPub, err := blsagg.GenerateKeyPair()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating BLS key: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("blsPublicKey: %s\n", blsPub.Hex())
		fmt.Printf("ACTIVE_BLS_KEY=%s\n", blsPriv.Hex())
	}
}
