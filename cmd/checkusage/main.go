package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/akagifreeez/deepl-quota-monitor/pkg/deeplapi"
)

// Quick one-shot usage check for a single secret, bypassing the monitor.
// Usage: checkusage <secret>
func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: checkusage <secret>")
		os.Exit(1)
	}
	secret := os.Args[1]

	client := deeplapi.NewClient("", "", 10*time.Second, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	usage, err := client.Usage(ctx, secret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	tier := "pro"
	if deeplapi.IsStandardSecret(secret) {
		tier = "standard"
	}

	fmt.Printf("Tier: %s\n", tier)
	fmt.Printf("Characters: %d / %d\n", usage.CharacterCount, usage.CharacterLimit)
	if usage.APIKeyCharacterCount != nil {
		limit := int64(0)
		if usage.APIKeyCharacterLimit != nil {
			limit = *usage.APIKeyCharacterLimit
		}
		fmt.Printf("Key sub-quota: %d / %d\n", *usage.APIKeyCharacterCount, limit)
	}
	if usage.StartTime != nil && usage.EndTime != nil {
		fmt.Printf("Billing period: %s -> %s\n",
			usage.StartTime.Format(time.RFC3339), usage.EndTime.Format(time.RFC3339))
	}
}
