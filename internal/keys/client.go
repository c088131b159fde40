package keys

import (
	"bytes"
	"compress/bzip2"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	dbzip2 "github.com/dsnet/compress/bzip2"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/wogdump/wogdump/internal/config"
	werrors "github.com/wogdump/wogdump/internal/errors"
	logger "github.com/wogdump/wogdump/internal/logging"
)

// ServiceClient speaks the key service's wire protocol: a bzip2
// compressed query string with a 4-byte little-endian length prefix on
// both request and response, sent over HTTP PUT. The standard library
// only decompresses bzip2, so the request side uses dsnet/compress.
type ServiceClient struct {
	cfg    config.Config
	client *retryablehttp.Client
	log    logger.Logger
}

// NewServiceClient builds a client on the shared retrying HTTP client.
func NewServiceClient(cfg config.Config, client *retryablehttp.Client, log logger.Logger) *ServiceClient {
	return &ServiceClient{cfg: cfg, client: client, log: log}
}

// FetchKey asks the service for the base decryption key of one asset.
// Auth rejections map to werrors.ErrKeyServiceAuth, server-side errors
// to werrors.ErrKeyServiceStatus; undecodable replies are transient.
func (c *ServiceClient) FetchKey(ctx context.Context, asset string) (string, error) {
	payload, err := encodeRequest(c.buildQuery(asset, time.Now()))
	if err != nil {
		return "", fmt.Errorf("failed to encode key request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, c.cfg.KeyServiceURL, payload)
	if err != nil {
		return "", fmt.Errorf("failed to build key request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("User-Agent", c.cfg.UserAgent())
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("X-Unity-Version", c.cfg.UnityVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", werrors.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: key service returned %s", classifyStatus(resp.StatusCode), resp.Status)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", werrors.ErrTransientNetwork, err)
	}
	reply, err := decodeResponse(raw)
	if err != nil {
		return "", err
	}
	c.log.Debugf("key service reply for %s: %d bytes", asset, len(reply))
	return parseReply(reply, asset)
}

func (c *ServiceClient) buildQuery(asset string, now time.Time) string {
	return fmt.Sprintf(
		"query=3&model=%s&mode=%s&need_details=1&ver=%s&uver=%s&dev=%s&session=%d&id=%d&time=%d",
		asset, c.cfg.GameMode, c.cfg.AppVersion, c.cfg.UnityVersion,
		c.cfg.DeviceID, c.cfg.AuthSession, c.cfg.AuthID, now.Unix(),
	)
}

// encodeRequest compresses the query and prefixes the compressed length
// as 4 bytes little-endian, matching what the game client sends.
func encodeRequest(query string) ([]byte, error) {
	var compressed bytes.Buffer
	w, err := dbzip2.NewWriter(&compressed, nil)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write([]byte(query)); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	out := make([]byte, 4, 4+compressed.Len())
	binary.LittleEndian.PutUint32(out, uint32(compressed.Len()))
	return append(out, compressed.Bytes()...), nil
}

// decodeResponse strips the 4-byte length prefix and decompresses the
// rest of the body.
func decodeResponse(raw []byte) (string, error) {
	if len(raw) < 4 {
		return "", fmt.Errorf("%w: key service response too short (%d bytes)", werrors.ErrTransientNetwork, len(raw))
	}
	body, err := io.ReadAll(bzip2.NewReader(bytes.NewReader(raw[4:])))
	if err != nil {
		return "", fmt.Errorf("%w: undecodable key service response: %v", werrors.ErrTransientNetwork, err)
	}
	return string(body), nil
}

// parseReply extracts the sync key from a result=0 reply and maps the
// documented error codes.
func parseReply(reply, asset string) (string, error) {
	result := queryValue(reply, "result")
	switch result {
	case "0":
		key := queryValue(reply, "sync")
		if key == "" {
			return "", fmt.Errorf("%w: no sync key for %s in successful reply", werrors.ErrTransientNetwork, asset)
		}
		return key, nil
	case "100":
		return "", fmt.Errorf("%w (result=100) for %s", werrors.ErrKeyServiceAuth, asset)
	case "1000":
		return "", fmt.Errorf("%w (result=1000) for %s", werrors.ErrKeyServiceStatus, asset)
	default:
		if result == "" {
			result = "unknown"
		}
		return "", fmt.Errorf("%w: key service answered result=%s for %s", werrors.ErrTransientNetwork, result, asset)
	}
}

// queryValue pulls a value out of the reply without URL-unescaping it;
// keys are opaque and must come through byte for byte.
func queryValue(reply, name string) string {
	for _, segment := range strings.Split(reply, "&") {
		if rest, ok := strings.CutPrefix(segment, name+"="); ok {
			return rest
		}
	}
	return ""
}

func classifyStatus(code int) error {
	if code >= 500 || code == http.StatusTooManyRequests {
		return werrors.ErrTransientNetwork
	}
	return werrors.ErrPermanentNetwork
}
