package config

import (
	"os"

	"github.com/joho/godotenv"
)

// envFiles are tried in order; the first one that parses wins. Values never
// override variables already present in the process environment.
var envFiles = []string{".env", ".env.local"}

// LoadEnv loads environment variables from the first available env file,
// then from any explicitly named extra files. A missing default file is not
// an error; the process environment simply stands. Explicit files must
// exist.
func LoadEnv(extra ...string) error {
	for _, path := range envFiles {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return err
		}
		break
	}
	if len(extra) > 0 {
		return godotenv.Load(extra...)
	}
	return nil
}
