package heartrate_test

import (
  "errors"
  "reflect"
  "testing"

  "github.com/YuxiangWang0525/miband-heart-rate-RESTful/heartrate"
)

func contact(v bool) *bool {
  return &v
}

func TestDecode_Scenarios(t *testing.T) {
  tests := []struct {
    name string
    data []byte
    want heartrate.Reading
  }{
    {
      name: "8-bit value, contact unsupported",
      data: []byte{0x00, 0x46},
      want: heartrate.Reading{Value: 70},
    },
    {
      name: "8-bit value, contact detected",
      data: []byte{0x06, 0x3c},
      want: heartrate.Reading{Value: 60, SensorContactDetected: contact(true)},
    },
    {
      name: "16-bit value, contact not detected",
      data: []byte{0x05, 0xf4, 0x01},
      want: heartrate.Reading{Value: 500, SensorContactDetected: contact(false)},
    },
    {
      name: "trailing energy expended and RR intervals are ignored",
      data: []byte{0x18, 0x48, 0x10, 0x00, 0x00, 0x04},
      want: heartrate.Reading{Value: 72},
    },
  }

  for _, tt := range tests {
    t.Run(tt.name, func(t *testing.T) {
      got, err := heartrate.Decode(tt.data)

      if err != nil {
        t.Fatalf("Decode(%x) got error: %v", tt.data, err)
      }

      if !reflect.DeepEqual(got, tt.want) {
        t.Fatalf("Decode(%x): got %+#v, wanted %+#v", tt.data, got, tt.want)
      }
    })
  }
}

func TestDecode_ValueFormat(t *testing.T) {
  for flags := 0; flags < 256; flags++ {
    for _, b1 := range []byte{0x00, 0x01, 0x7f, 0xff} {
      for _, b2 := range []byte{0x00, 0x01, 0x80, 0xff} {
        var data []byte
        var want uint16

        if flags&0x01 == 0 {
          data = []byte{byte(flags), b1}
          want = uint16(b1)
        } else {
          data = []byte{byte(flags), b1, b2}
          want = uint16(b1) | uint16(b2)<<8
        }

        got, err := heartrate.Decode(data)

        if err != nil {
          t.Fatalf("Decode(%x) got error: %v", data, err)
        }

        if got.Value != want {
          t.Fatalf("Decode(%x): got value %d, wanted %d", data, got.Value, want)
        }
      }
    }
  }
}

func TestDecode_SensorContact(t *testing.T) {
  for flags := 0; flags < 256; flags++ {
    data := []byte{byte(flags), 0x50, 0x00}
    got, err := heartrate.Decode(data)

    if err != nil {
      t.Fatalf("Decode(%x) got error: %v", data, err)
    }

    if flags&0x04 == 0 {
      if got.SensorContactDetected != nil {
        t.Fatalf("Decode(%x): contact should be unsupported, got %v", data, *got.SensorContactDetected)
      }

      if got.Contact() != heartrate.ContactUnsupported {
        t.Fatalf("Decode(%x): got contact status %v", data, got.Contact())
      }

      continue
    }

    if got.SensorContactDetected == nil {
      t.Fatalf("Decode(%x): contact should be supported", data)
    }

    if want := flags&0x02 != 0; *got.SensorContactDetected != want {
      t.Fatalf("Decode(%x): got contact %v, wanted %v", data, *got.SensorContactDetected, want)
    }
  }
}

func TestDecode_Malformed(t *testing.T) {
  inputs := [][]byte{
    nil,
    {},
    {0x00},
    {0x06},
    {0x01},
    {0x01, 0xf4},
    {0x05, 0xf4},
  }

  for _, data := range inputs {
    _, err := heartrate.Decode(data)

    if !errors.Is(err, heartrate.ErrMalformedMeasurement) {
      t.Fatalf("Decode(%x): got error %v, wanted %v", data, err, heartrate.ErrMalformedMeasurement)
    }
  }
}

func TestReading_String(t *testing.T) {
  r := heartrate.Reading{Value: 60, SensorContactDetected: contact(true), Timestamp: 1700000000, Seq: 3}
  want := "Reading[Value=60,Contact=Detected,Timestamp=1700000000,Seq=3]"

  if got := r.String(); got != want {
    t.Fatalf("String(): got %q, wanted %q", got, want)
  }
}
