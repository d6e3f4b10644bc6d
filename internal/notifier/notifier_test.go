package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samims/pricewatch/internal/model"
)

func TestRenderPriceDrop(t *testing.T) {
	msg := RenderPriceDrop(PriceDrop{
		Title:     "Echo Dot <5>",
		URL:       "https://amazon.it/dp/B0C1234567",
		OldPrice:  decimal.RequireFromString("100.00"),
		NewPrice:  decimal.RequireFromString("85.00"),
		Currency:  "EUR",
		CheckedAt: time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC),
	})

	assert.Contains(t, msg, "<b>Echo Dot &lt;5&gt;</b>")
	assert.Contains(t, msg, "<b>Nuovo prezzo:</b> 85.00 EUR")
	assert.Contains(t, msg, "<s>100.00 EUR</s>")
	assert.Contains(t, msg, "15.00 EUR (-15%)")
	assert.Contains(t, msg, `<a href="https://amazon.it/dp/B0C1234567">`)
	assert.Contains(t, msg, "01/05/2026, 09:30:00")
}

func TestPriceDrop_Savings(t *testing.T) {
	tests := []struct {
		name    string
		old     string
		new     string
		savings string
		pct     int64
	}{
		{name: "round percent", old: "100", new: "85", savings: "15", pct: 15},
		{name: "rounds half up", old: "30", new: "19.95", savings: "10.05", pct: 34},
		{name: "zero old price", old: "0", new: "0", savings: "0", pct: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := PriceDrop{OldPrice: decimal.RequireFromString(tt.old), NewPrice: decimal.RequireFromString(tt.new)}
			savings, pct := d.Savings()
			assert.True(t, decimal.RequireFromString(tt.savings).Equal(savings))
			assert.Equal(t, tt.pct, pct)
		})
	}
}

const sentMessage = `{"ok":true,"result":{"message_id":1,"date":1714555800,"chat":{"id":12345,"type":"private"}}}`

// sendMessageFields reads a sendMessage call sent either as a form or as JSON.
func sendMessageFields(t *testing.T, r *http.Request) map[string]string {
	t.Helper()
	fields := map[string]string{}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var raw map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		for k, v := range raw {
			fields[k] = fmt.Sprint(v)
		}
		return fields
	}
	require.NoError(t, r.ParseMultipartForm(1<<20))
	for k, v := range r.MultipartForm.Value {
		fields[k] = strings.Trim(v[0], `"`)
	}
	return fields
}

func TestTelegramNotifier_Notify(t *testing.T) {
	var (
		mu       sync.Mutex
		received []map[string]string
		paths    []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fields := sendMessageFields(t, r)

		mu.Lock()
		received = append(received, fields)
		paths = append(paths, r.URL.Path)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if fields["chat_id"] == "blocked" {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`)
			return
		}
		fmt.Fprint(w, sentMessage)
	}))
	defer srv.Close()

	n, err := NewTelegramNotifier(TelegramConfig{Token: "TOKEN", APIURL: srv.URL + "/"}, slog.Default())
	require.NoError(t, err)
	defer n.Close()

	require.NoError(t, n.Notify(context.Background(), "12345", "<b>hi</b>"))

	err = n.Notify(context.Background(), "blocked", "<b>hi</b>")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot was blocked")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	assert.Equal(t, "/botTOKEN/sendMessage", paths[0])
	assert.Equal(t, "12345", received[0]["chat_id"])
	assert.Equal(t, "<b>hi</b>", received[0]["text"])
	assert.Equal(t, ParseModeHTML, received[0]["parse_mode"])
}

func TestTelegramNotifier_UnreachableHidesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	n, err := NewTelegramNotifier(TelegramConfig{Token: "SECRET", APIURL: base, Timeout: time.Second}, slog.Default())
	require.NoError(t, err)
	err = n.Notify(context.Background(), "1", "x")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET")
}

func TestTelegramNotifier_Spacing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, sentMessage)
	}))
	defer srv.Close()

	n, err := NewTelegramNotifier(TelegramConfig{Token: "T", APIURL: srv.URL, Interval: 50 * time.Millisecond}, slog.Default())
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, n.Notify(context.Background(), "1", "x"))
	}
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestKafkaNotifier_Notify(t *testing.T) {
	cfg := NewSaramaConfig("pricewatch-test")
	producer := mocks.NewAsyncProducer(t, cfg)
	producer.ExpectInputWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "12345" {
			return fmt.Errorf("unexpected key %q", key)
		}
		raw, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var event model.PriceDropEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			return err
		}
		if event.SubscriberID != "12345" || event.Message != "drop!" || event.EventID == "" {
			return fmt.Errorf("unexpected event %+v", event)
		}
		return nil
	})

	n, err := NewKafkaNotifier(producer, "price-drops", slog.Default())
	require.NoError(t, err)

	require.NoError(t, n.Notify(context.Background(), "12345", "drop!"))
	require.NoError(t, n.Close())
	require.NoError(t, n.Close())
}

func TestNewKafkaNotifier_Validation(t *testing.T) {
	_, err := NewKafkaNotifier(nil, "topic", slog.Default())
	assert.Error(t, err)

	producer := mocks.NewAsyncProducer(t, NewSaramaConfig("x"))
	defer producer.Close()
	_, err = NewKafkaNotifier(producer, "", slog.Default())
	assert.Error(t, err)
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(slog.Default())
	assert.NoError(t, n.Notify(context.Background(), "1", "hello"))
	assert.NoError(t, n.Close())
}
