package notify

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-levelwatch/internal/types"
	"github.com/oszuidwest/zwfm-levelwatch/internal/util"
)

// Zabbix protocol constants.
const (
	zabbixTimeout    = 5 * time.Second
	zabbixHeaderSize = 13        // "ZBXD\x01" (5) + uint64 length (8)
	maxReplySize     = 64 * 1024 // 64KB max reply to prevent memory exhaustion
)

// zabbixMagic is the protocol header prefix.
var zabbixMagic = [5]byte{'Z', 'B', 'X', 'D', 0x01}

type zabbixRequest struct {
	Request string       `json:"request"`
	Data    []zabbixItem `json:"data"`
}

type zabbixItem struct {
	Host  string `json:"host"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

type zabbixResponse struct {
	Response string `json:"response"`
	Info     string `json:"info"`
}

// encodeZabbixFrame prepends the protocol header to a JSON payload.
func encodeZabbixFrame(payload zabbixRequest) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, util.WrapError("marshal zabbix payload", err)
	}
	frame := make([]byte, zabbixHeaderSize, zabbixHeaderSize+len(data))
	copy(frame[0:5], zabbixMagic[:])
	binary.LittleEndian.PutUint64(frame[5:], uint64(len(data)))
	return append(frame, data...), nil
}

// sendZabbixPayload sends a payload to the Zabbix server and checks the reply.
func sendZabbixPayload(ctx context.Context, cfg *types.ZabbixConfig, payload zabbixRequest) error {
	addr := net.JoinHostPort(cfg.Server, strconv.Itoa(cfg.Port))
	dialer := net.Dialer{Timeout: zabbixTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return util.WrapError("connect to zabbix", err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.SetDeadline(time.Now().Add(zabbixTimeout)); err != nil {
		return util.WrapError("set deadline", err)
	}

	frame, err := encodeZabbixFrame(payload)
	if err != nil {
		return err
	}
	if _, err := conn.Write(frame); err != nil {
		return util.WrapError("write zabbix payload", err)
	}

	replyHeader := make([]byte, zabbixHeaderSize)
	if _, err := io.ReadFull(conn, replyHeader); err != nil {
		return util.WrapError("read zabbix reply header", err)
	}
	if !bytes.Equal(replyHeader[0:5], zabbixMagic[:]) {
		return fmt.Errorf("invalid zabbix reply header")
	}

	replyLen := binary.LittleEndian.Uint64(replyHeader[5:zabbixHeaderSize])
	if replyLen == 0 {
		return fmt.Errorf("empty zabbix reply")
	}
	if replyLen > maxReplySize {
		return fmt.Errorf("zabbix reply too large: %d bytes (max %d)", replyLen, maxReplySize)
	}

	reply := make([]byte, replyLen)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return util.WrapError("read zabbix reply body", err)
	}

	var resp zabbixResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		return util.WrapError("parse zabbix reply", err)
	}
	if resp.Response == "failed" {
		return fmt.Errorf("zabbix rejected data: %s", resp.Info)
	}
	// Host or key unknown to Zabbix.
	if strings.Contains(resp.Info, "processed: 0;") && strings.Contains(resp.Info, "failed: 0;") {
		return fmt.Errorf("zabbix processed no items (check host/key config)")
	}
	return nil
}

// sendZabbixValue sends one trapper value.
func sendZabbixValue(ctx context.Context, cfg *types.ZabbixConfig, value string) error {
	if !util.IsConfigured(cfg.Server, cfg.Host, cfg.Key) {
		return nil
	}
	return sendZabbixPayload(ctx, cfg, zabbixRequest{
		Request: "sender data",
		Data:    []zabbixItem{{Host: cfg.Host, Key: cfg.Key, Value: value}},
	})
}

// zabbixTransitionValue formats a transition as a trapper value.
func zabbixTransitionValue(t *types.Transition) string {
	if t.To.IsAlert() {
		return fmt.Sprintf("event=LOUD level=%.1f ambient=%.1f threshold=%.1f mode=%s",
			t.LevelDBFS, t.AmbientDBFS, t.EnterDBFS, t.Mode)
	}
	return fmt.Sprintf("event=NORMAL duration_ms=%d level=%.1f ambient=%.1f threshold=%.1f mode=%s",
		t.Duration.Milliseconds(), t.LevelDBFS, t.AmbientDBFS, t.LeaveDBFS, t.Mode)
}

// SendTransitionZabbix sends an alert transition to Zabbix.
func SendTransitionZabbix(ctx context.Context, cfg *types.ZabbixConfig, t *types.Transition) error {
	return sendZabbixValue(ctx, cfg, zabbixTransitionValue(t))
}

// SendTestZabbix sends a test message to verify Zabbix config.
func SendTestZabbix(ctx context.Context, cfg *types.ZabbixConfig) error {
	if !util.IsConfigured(cfg.Server, cfg.Host, cfg.Key) {
		return fmt.Errorf("%w: zabbix server, host and key", ErrNotConfigured)
	}
	return sendZabbixValue(ctx, cfg, "event=TEST source=zwfm-levelwatch")
}
