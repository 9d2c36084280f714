package memoryservice

import (
	"os"
	"testing"

	"tripplan-go/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	os.Exit(m.Run())
}
