package pvoutput

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/CoolE88/aurora-telemetry-service/internal/domain"

	"go.uber.org/zap"
)

const (
	addStatusPath      = "/service/r2/addstatus.jsp"
	addBatchStatusPath = "/service/r2/addbatchstatus.jsp"

	// MaxBatchSize — предел числа записей в одном batch-запросе API
	MaxBatchSize = 30
)

var (
	// ErrTransient — сбой доставки, запись остаётся в очереди и будет
	// отправлена повторно: сеть, тайм-аут, 5xx
	ErrTransient = errors.New("transient upload failure")

	// ErrRejected — сервис получил запрос и отверг его содержимое,
	// повтор того же содержимого скорее всего отвергнется снова
	ErrRejected = errors.New("upload rejected by remote service")
)

// переносимые в API поля записи в порядке v1..v6
var statusFields = []string{
	domain.FieldDayEnergy,    // v1: накопленная за день энергия, Wh
	domain.FieldGridPower,    // v2: мощность, W
	"",                       // v3: потребление энергии, не измеряется
	"",                       // v4: потребление мощности, не измеряется
	domain.FieldInverterTemp, // v5: температура, C
	domain.FieldGridVoltage,  // v6: напряжение, V
}

// Client ходит в HTTP API телеметрии с form-encoded полезной
// нагрузкой и обязательными заголовками авторизации
type Client struct {
	baseURL  string
	systemID string
	apiKey   string
	http     *http.Client
	logger   *zap.Logger
}

func NewClient(baseURL, systemID, apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		systemID: systemID,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Postable сообщает, есть ли в записи хоть одно поле, которое примет
// API. Записи-пустышки (инвертор спит) отправлять некуда.
func Postable(record *domain.MeasurementRecord) bool {
	for _, name := range statusFields {
		if name == "" {
			continue
		}
		if record.Field(name).Present {
			return true
		}
	}
	return false
}

// AddStatus отправляет одну запись
func (c *Client) AddStatus(ctx context.Context, record *domain.MeasurementRecord) error {
	ts := time.Unix(record.Timestamp, 0)
	params := url.Values{}
	params.Set("d", ts.Format("20060102"))
	params.Set("t", ts.Format("15:04"))
	for i, name := range statusFields {
		if name == "" {
			continue
		}
		if v := record.Field(name); v.Present {
			params.Set(fmt.Sprintf("v%d", i+1), formatValue(v.Float))
		}
	}

	_, err := c.post(ctx, addStatusPath, params)
	return err
}

// AddBatchStatus отправляет пачку записей одним запросом. Строки
// пачки разделяются точкой с запятой, поля внутри строки — запятыми,
// отсутствующие значения оставляют пустую позицию. Ответ содержит
// результат по каждой строке; сбой любой строки отвергает пачку
// целиком, частичного успеха API не сообщает.
func (c *Client) AddBatchStatus(ctx context.Context, records []domain.QueueEntry) error {
	if len(records) == 0 {
		return nil
	}
	if len(records) > MaxBatchSize {
		return fmt.Errorf("batch of %d exceeds limit %d", len(records), MaxBatchSize)
	}

	rows := make([]string, 0, len(records))
	for _, entry := range records {
		ts := time.Unix(entry.Record.Timestamp, 0)
		fields := []string{ts.Format("20060102"), ts.Format("15:04")}
		for _, name := range statusFields {
			if name == "" {
				fields = append(fields, "")
				continue
			}
			if v := entry.Record.Field(name); v.Present {
				fields = append(fields, formatValue(v.Float))
			} else {
				fields = append(fields, "")
			}
		}
		rows = append(rows, strings.TrimRight(strings.Join(fields, ","), ","))
	}

	params := url.Values{}
	params.Set("data", strings.Join(rows, ";"))

	body, err := c.post(ctx, addBatchStatusPath, params)
	if err != nil {
		return err
	}

	// проверка построчных результатов ответа
	results := strings.Split(strings.TrimSpace(body), ";")
	if len(results) != len(records) {
		return fmt.Errorf("%w: expected %d row results, got %d", ErrRejected, len(records), len(results))
	}
	for i, result := range results {
		parts := strings.Split(result, ",")
		if len(parts) != 3 {
			return fmt.Errorf("%w: malformed row result %q", ErrRejected, result)
		}
		if parts[2] != "1" {
			c.logger.Warn("batch row rejected",
				zap.Uint64("sequence", records[i].Sequence),
				zap.String("result", result))
			return fmt.Errorf("%w: row for sequence %d failed with status %s",
				ErrRejected, records[i].Sequence, parts[2])
		}
	}
	return nil
}

// post выполняет form-encoded запрос и классифицирует исход: ошибки
// сети и 5xx — преходящие, прочие не-200 ответы — отказ сервиса
func (c *Client) post(ctx context.Context, path string, params url.Values) (string, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return "", err
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	request.Header.Set("X-Pvoutput-Apikey", c.apiKey)
	request.Header.Set("X-Pvoutput-SystemId", c.systemID)

	response, err := c.http.Do(request)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTransient, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %w", ErrTransient, err)
	}

	switch {
	case response.StatusCode == http.StatusOK:
		return string(body), nil
	case response.StatusCode >= 500 || response.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: %s: %s", ErrTransient, response.Status, strings.TrimSpace(string(body)))
	default:
		return "", fmt.Errorf("%w: %s: %s", ErrRejected, response.Status, strings.TrimSpace(string(body)))
	}
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
