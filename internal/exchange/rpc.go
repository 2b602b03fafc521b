package exchange

import (
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const jsonRPCVersion = "2.0"

// rpcRequest - конверт JSON-RPC запроса
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      uint64      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

// rpcResponse - конверт ответа; result разбирается отдельно под метод
type rpcResponse struct {
	JSONRPC string              `json:"jsonrpc"`
	ID      uint64              `json:"id"`
	Result  jsoniter.RawMessage `json:"result"`
	Error   *rpcError           `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ============================================================
// Параметры запросов
// ============================================================

type authParams struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type placeParams struct {
	InstrumentName string   `json:"instrument_name"`
	Amount         float64  `json:"amount"`
	Type           string   `json:"type"`
	Price          *float64 `json:"price,omitempty"`
	Label          string   `json:"label,omitempty"`
}

type orderIDParams struct {
	OrderID string `json:"order_id"`
}

type editParams struct {
	OrderID string  `json:"order_id"`
	Amount  float64 `json:"amount"`
	Price   float64 `json:"price"`
}

// ============================================================
// Результаты
// ============================================================

type authResult struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// venueOrder - ордер в ответах private/* методов
type venueOrder struct {
	OrderID             string    `json:"order_id"`
	OrderState          string    `json:"order_state"`
	InstrumentName      string    `json:"instrument_name"`
	Direction           string    `json:"direction"`
	OrderType           string    `json:"order_type"`
	Price               flexFloat `json:"price"`
	Amount              flexFloat `json:"amount"`
	FilledAmount        flexFloat `json:"filled_amount"`
	Label               string    `json:"label"`
	CreationTimestamp   int64     `json:"creation_timestamp"`
	LastUpdateTimestamp int64     `json:"last_update_timestamp"`
}

// orderResult - результат private/buy, private/sell, private/edit
type orderResult struct {
	Order *venueOrder `json:"order"`
}

type bookResult struct {
	InstrumentName string        `json:"instrument_name"`
	Bids           [][]flexFloat `json:"bids"`
	Asks           [][]flexFloat `json:"asks"`
	Timestamp      int64         `json:"timestamp"`
}

// flexFloat принимает число или строку ("market_price" у рыночных ордеров -> 0)
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexFloat(v)
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}
