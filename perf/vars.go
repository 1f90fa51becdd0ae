package perf

import (
	"expvar"
	"net/http"

	"github.com/encodeous/metric"
)

var (
	DispatchLatency     = metric.NewHistogram("1m1s")
	FramesSentPerSecond = metric.NewCounter("10s1s")
	FramesRecvPerSecond = metric.NewCounter("10s1s")
	BytesSentPerSecond  = metric.NewCounter("10s1s")
	BytesRecvPerSecond  = metric.NewCounter("10s1s")
	Undeliverable       = metric.NewCounter("1m1s")
	Malformed           = metric.NewCounter("1m1s")
	Recovered           = metric.NewCounter("1m1s")
	Unrecoverable       = metric.NewCounter("1m1s")
	AdvertsSent         = metric.NewCounter("1m1s")
	ChannelSkips        = metric.NewCounter("1m1s")
)

func init() {
	http.Handle("/debug/metrics", metric.Handler(metric.Exposed))
	expvar.Publish("strata:FramesSent/s", FramesSentPerSecond)
	expvar.Publish("strata:FramesRecv/s", FramesRecvPerSecond)
	expvar.Publish("strata:BytesSent/s", BytesSentPerSecond)
	expvar.Publish("strata:BytesRecv/s", BytesRecvPerSecond)
	expvar.Publish("strata:Undeliverable", Undeliverable)
	expvar.Publish("strata:Malformed", Malformed)
	expvar.Publish("strata:Recovered", Recovered)
	expvar.Publish("strata:Unrecoverable", Unrecoverable)
	expvar.Publish("strata:AdvertsSent", AdvertsSent)
	expvar.Publish("strata:ChannelSkips", ChannelSkips)
	expvar.Publish("strata:DispatchLatency (µs)", DispatchLatency)
}
