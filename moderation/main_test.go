package moderation

import (
	"os"
	"testing"

	"github.com/onnwee/chat-warden/telemetry"
)

func TestMain(m *testing.M) {
	telemetry.Init()
	os.Exit(m.Run())
}
