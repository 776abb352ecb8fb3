package integration

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"time"

	"github.com/BradenHooton/facegate/internal/config"
)

// TestUserID generates a unique user id using the current timestamp
func TestUserID(suffix string) string {
	return fmt.Sprintf("user-%d-%s", time.Now().UnixNano(), suffix)
}

// TestStrategiesYAML is a small policy set: logins are optional, payments required
// with a frequency cap, and a new device escalates logins.
const TestStrategiesYAML = `
strategies:
  - business_type: default
    default_type: OPTIONAL
  - business_type: login
    default_type: OPTIONAL
    rules:
      - name: new-device
        priority: 10
        when:
          field: context.new_device
          op: eq
          value: true
        then:
          type: REQUIRED
  - business_type: payment
    default_type: REQUIRED
    frequency_limit: 3
    frequency_window: 1h
`

// TestStrategies parses TestStrategiesYAML
func TestStrategies() (*config.StrategySet, error) {
	return config.ParseStrategies([]byte(TestStrategiesYAML))
}

// TestImagePNG returns a blank PNG large enough to pass the local size checks
func TestImagePNG(w, h int) []byte {
	var buf bytes.Buffer
	_ = png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)))
	return buf.Bytes()
}
