package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ServerCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dv_server_commands_total",
			Help: "Number of commands executed by a command server",
		},
		[]string{"server", "verb"},
	)

	ServerCommandFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dv_server_command_failures_total",
			Help: "Number of commands whose handler failed",
		},
		[]string{"server", "verb"},
	)

	ServerUnmatchedFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dv_server_unmatched_frames_total",
			Help: "Number of received frames discarded without a matching command",
		},
		[]string{"server"},
	)

	ServerTransferItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dv_server_transfer_items_total",
			Help: "Number of data items moved by XFER commands",
		},
		[]string{"server"},
	)

	SockRxBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dv_sock_rx_bytes_total",
			Help: "Number of bytes received by the socket server",
		},
	)

	SockTxBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dv_sock_tx_bytes_total",
			Help: "Number of bytes sent by the socket server",
		},
	)

	SockConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dv_sock_connections_total",
			Help: "Number of connections or datagrams served per socket service",
		},
		[]string{"service"},
	)
)

// Register adds all collectors to reg
func Register(reg prometheus.Registerer) {
	reg.MustRegister(ServerCommandsTotal)
	reg.MustRegister(ServerCommandFailuresTotal)
	reg.MustRegister(ServerUnmatchedFramesTotal)
	reg.MustRegister(ServerTransferItemsTotal)
	reg.MustRegister(SockRxBytesTotal)
	reg.MustRegister(SockTxBytesTotal)
	reg.MustRegister(SockConnectionsTotal)
}
