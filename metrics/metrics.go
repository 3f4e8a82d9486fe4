package metrics

import (
  "time"

  "github.com/prometheus/client_golang/prometheus"

  "github.com/YuxiangWang0525/miband-heart-rate-RESTful/heartrate"
)

var (
  descHeartRate = prometheus.NewDesc(
    "heart_rate_bpm",
    "Latest heart rate reported by the sensor in beats per minute.",
    nil,
    nil,
  )

  descSensorContact = prometheus.NewDesc(
    "heart_rate_sensor_contact",
    "Whether the sensor detects skin contact. Absent if the sensor does not report contact.",
    nil,
    nil,
  )

  descTimestamp = prometheus.NewDesc(
    "heart_rate_reading_timestamp_seconds",
    "Unix time at which the latest reading was decoded.",
    nil,
    nil,
  )
)

// CollectFunc returns the latest reading, or false if none is available yet.
type CollectFunc func() (heartrate.Reading, bool)

type collector struct {
  CollectFunc
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
  prometheus.DescribeByCollect(c, ch)
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
  reading, ok := c.CollectFunc()

  if !ok {
    return
  }

  ts := time.Unix(reading.Timestamp, 0)

  heartRate := prometheus.MustNewConstMetric(
    descHeartRate,
    prometheus.GaugeValue,
    float64(reading.Value),
  )

  ch <- prometheus.NewMetricWithTimestamp(ts, heartRate)

  ch <- prometheus.MustNewConstMetric(
    descTimestamp,
    prometheus.GaugeValue,
    float64(reading.Timestamp),
  )

  if reading.SensorContactDetected != nil {
    var contact float64

    if *reading.SensorContactDetected {
      contact = 1
    }

    sensorContact := prometheus.MustNewConstMetric(
      descSensorContact,
      prometheus.GaugeValue,
      contact,
    )

    ch <- prometheus.NewMetricWithTimestamp(ts, sensorContact)
  }
}

func RegisterCollector(f CollectFunc, reg prometheus.Registerer) {
  c := &collector{f}

  reg.MustRegister(c)
}
