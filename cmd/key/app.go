package key

import (
	"fmt"
	"io"
	"time"

	"canteen-sync/internal/cli"
)

// Run mints a development token and prints it with its claims.
func Run(w io.Writer, secret, userID, role string, ttl time.Duration) error {
	token, claims, err := cli.GenerateUserToken(secret, userID, role, ttl)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "TOKEN:")
	fmt.Fprintln(w, token)
	fmt.Fprintln(w, "\nCLAIMS:")
	fmt.Fprintf(w, "  sub:  %s\n", claims.Subject)
	fmt.Fprintf(w, "  role: %s\n", claims.Role)
	fmt.Fprintf(w, "  iat:  %s\n", claims.IssuedAt.Time.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "  exp:  %s\n", claims.ExpiresAt.Time.UTC().Format(time.RFC3339))
	return nil
}
