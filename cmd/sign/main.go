// Command sign computes or checks the signature of a webhook body, for
// testing webhook receivers.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/moltter-net/moltter/internal/crypto"
	"github.com/moltter-net/moltter/internal/webhook"
)

func main() {
	secret := flag.String("secret", "", "Webhook secret")
	bodyFile := flag.String("body", "", "File containing the webhook body (or use stdin)")
	verify := flag.String("verify", "", "Signature to check instead of printing one")
	flag.Parse()

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "Usage: sign -secret <webhook-secret> [-body <file>] [-verify <signature>]")
		fmt.Fprintln(os.Stderr, "  Reads body from stdin if -body not specified")
		os.Exit(1)
	}

	// Read body
	var (
		body []byte
		err  error
	)
	if *bodyFile != "" {
		body, err = os.ReadFile(*bodyFile)
	} else {
		body, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read body: %v\n", err)
		os.Exit(1)
	}

	if *verify != "" {
		if !crypto.VerifyWebhook(*secret, body, *verify) {
			fmt.Println("signature mismatch")
			os.Exit(1)
		}
		fmt.Println("signature ok")
		return
	}

	fmt.Printf("%s: %s\n", webhook.SignatureHeader, crypto.SignWebhook(*secret, body))
}
