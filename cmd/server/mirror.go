package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"tidewar.ai/internal/persistence/r2s3"
)

// buildMirror returns nil unless TW_MIRROR is true.
func buildMirror(dataDir string, logger *log.Logger) (*r2s3.Mirror, error) {
	if !envBool("TW_MIRROR", false) {
		return nil, nil
	}
	endpoint := os.Getenv("TW_MIRROR_ENDPOINT")
	bucket := os.Getenv("TW_MIRROR_BUCKET")
	keyID := os.Getenv("TW_MIRROR_ACCESS_KEY_ID")
	secret := os.Getenv("TW_MIRROR_SECRET_ACCESS_KEY")
	if strings.TrimSpace(endpoint) == "" || strings.TrimSpace(bucket) == "" || strings.TrimSpace(keyID) == "" || strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("TW_MIRROR=true needs TW_MIRROR_ENDPOINT, TW_MIRROR_BUCKET, TW_MIRROR_ACCESS_KEY_ID and TW_MIRROR_SECRET_ACCESS_KEY")
	}
	client, err := r2s3.New(endpoint, bucket, keyID, secret)
	if err != nil {
		return nil, err
	}
	return r2s3.NewMirror(client, dataDir, os.Getenv("TW_MIRROR_PREFIX"), envInt("TW_MIRROR_WORKERS", 2), 1024, logger), nil
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
