package server

import (
	"io"
	"log"
	"os"
	"testing"
)

// TestMain silences the default logger once before any test runs. Servers under
// test get their own loggers through WithLogOutput.
func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)

	os.Exit(m.Run())
}
