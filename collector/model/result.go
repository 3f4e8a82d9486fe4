package model

import (
	"fmt"
)

// Result is the outcome of one acquisition loop iteration. A nil Error means the device
// session ended normally (the sensor went away or stopped notifying).
type Result struct {
  Device string
  Readings int
  Error error
}

func (c Result) String() string {
  if c.Error != nil {
    return fmt.Sprintf("result:error(device=%q, readings=%d, %v)", c.Device, c.Readings, c.Error)
  } else {
    return fmt.Sprintf("result:closed(device=%q, readings=%d)", c.Device, c.Readings)
  }
}
