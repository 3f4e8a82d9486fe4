package heartrate

import (
  "fmt"
  "strconv"
)

type ContactStatus uint8

const (
  ContactUnsupported ContactStatus = iota
  ContactNotDetected
  ContactDetected
)

func (cs ContactStatus) String() string {
  switch (cs) {
  case ContactUnsupported:
    return "Unsupported"
  case ContactNotDetected:
    return "NotDetected"
  case ContactDetected:
    return "Detected"
  default:
    panic("Unknown contact status: " + strconv.Itoa(int(cs)))
  }
}

// Reading is a single decoded heart rate measurement. Readings are values and are never
// mutated after being handed to the store or the hub.
//
// The JSON field names are snake_case, as served by earlier versions of this service, so
// existing dashboards keep working.
type Reading struct {
  Value uint16 `json:"value"`
  // nil when the sensor does not support contact detection.
  SensorContactDetected *bool `json:"sensor_contact_detected"`
  // Unix seconds, assigned when the notification was decoded.
  Timestamp int64 `json:"timestamp"`

  // Publish order, assigned by the acquisition loop.
  Seq uint64 `json:"-"`
}

func (r Reading) Contact() ContactStatus {
  switch {
  case r.SensorContactDetected == nil:
    return ContactUnsupported
  case *r.SensorContactDetected:
    return ContactDetected
  default:
    return ContactNotDetected
  }
}

func (r Reading) String() string {
  return fmt.Sprintf("Reading[Value=%d,Contact=%v,Timestamp=%d,Seq=%d]",
    r.Value, r.Contact(), r.Timestamp, r.Seq)
}
