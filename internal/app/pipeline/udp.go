package pipeline

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

const defaultMTU = 1500

// UDPSink forwards RTP packets to a UDP address, e.g. for gst-launch or ffmpeg.
type UDPSink struct {
	conn *net.UDPConn
	buf  []byte
}

func NewUDPSink(addr string) (*UDPSink, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, err
	}
	return &UDPSink{conn: conn, buf: make([]byte, defaultMTU)}, nil
}

// WriteRTP is called from a single relay loop.
func (s *UDPSink) WriteRTP(pkt *rtp.Packet) error {
	n, err := pkt.MarshalTo(s.buf)
	if err != nil {
		return err
	}
	_, err = s.conn.Write(s.buf[:n])
	return err
}

func (s *UDPSink) Close() error { return s.conn.Close() }

// PumpRTP listens on a UDP address and forwards RTP packets to w until ctx
// is done.
func PumpRTP(ctx context.Context, conn *net.UDPConn, w RTPWriter, logger *zerolog.Logger) {
	defer conn.Close()

	buf := make([]byte, defaultMTU)
	for {
		// keep the read unblocked with a short timeout
		_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))

		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				select {
				case <-ctx.Done():
					logger.Info().Msg("rtp pump shutting down")
					return
				default:
					continue
				}
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Error().Err(err).Msg("UDP read error")
			return
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			// ignore non-RTP
			continue
		}
		if err := w.WriteRTP(&pkt); err != nil {
			logger.Error().Err(err).Msg("failed to write to track")
			return
		}
	}
}
