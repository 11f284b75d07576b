// keyserver-check validates the deployment environment: it loads the
// configuration, connects to MongoDB, and ensures the indexes exist.
// Intended for container health checks and first-boot provisioning.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/keygrove/keyserver/internal/config"
	"github.com/keygrove/keyserver/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	db, err := storage.Connect(cfg.Mongo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mongo error: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := storage.NewPublicKeys(db).EnsureIndexes(); err != nil {
		fmt.Fprintf(os.Stderr, "index error: %v\n", err)
		os.Exit(1)
	}

	status := map[string]string{
		"mongo":   "ok",
		"indexes": "ok",
	}
	data, err := json.Marshal(status)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal status: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}
