package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/nanzhong/marketdata/logger"
	"github.com/nanzhong/marketdata/market"
	"github.com/nanzhong/marketdata/marketdata"
	"github.com/nanzhong/marketdata/usage"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

type httpErrorResponse struct {
	StatusCode int    `json:"status_code"`
	Error      string `json:"error"`
}

type httpError struct {
	err        error
	statusCode int
}

func newHTTPError(err error, status int) error {
	return &httpError{err: err, statusCode: status}
}

func newHTTPErrorWithMessage(err error, message string, status int) error {
	return &httpError{err: fmt.Errorf("%s: %w", message, err), statusCode: status}
}

func (e *httpError) Error() string {
	return fmt.Sprintf("%s: %d", e.err.Error(), e.statusCode)
}

func (e *httpError) Unwrap() error {
	return e.err
}

func (e *httpError) WriteResponse(w http.ResponseWriter) error {
	return json.NewEncoder(w).Encode(&httpErrorResponse{
		StatusCode: e.statusCode,
		Error:      e.err.Error(),
	})
}

var (
	usSymbolRegexp = regexp.MustCompile("(?i)^([a-z]{3,4})[^a-z0-9-]*$")
	jpSymbolRegexp = regexp.MustCompile(`^(\d{4})[^0-9]*$`)
	pairRegexp     = regexp.MustCompile("(?i)^([a-z]{3}-[a-z]{3})[^a-z]*$")
)

// Quoter answers single-type market data requests.
type Quoter interface {
	Get(ctx context.Context, p marketdata.Params) (*marketdata.Response, error)
}

type eventHandler struct {
	signingSecret string

	log         *logger.Entry
	slackClient *slack.Client
	quoter      Quoter
}

func NewEventHandler(slackClient *slack.Client, signingSecret string, quoter Quoter, log *logger.Log) http.Handler {
	if log == nil {
		log = logger.GetLogger()
	}
	return &eventHandler{
		signingSecret: signingSecret,

		log:         log.WithComponent("slack"),
		slackClient: slackClient,
		quoter:      quoter,
	}
}

func (h *eventHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	event, err := h.validateRequest(r)
	if err != nil {
		switch {
		case errors.Is(err, slack.ErrMissingHeaders), errors.Is(err, slack.ErrExpiredTimestamp):
			h.respondWithErr(w, r, newHTTPError(err, http.StatusBadRequest))
		default:
			h.respondWithErr(w, r, fmt.Errorf("validating request : %w", err))
		}
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		verificationEvent := event.Data.(*slackevents.EventsAPIURLVerificationEvent)
		_ = json.NewEncoder(w).Encode(&slackevents.ChallengeResponse{Challenge: verificationEvent.Challenge})
	case slackevents.CallbackEvent:
		if event.InnerEvent.Type != slackevents.AppMention {
			h.respondWithErr(w, r, newHTTPError(errors.New("unhandled event"), http.StatusNotImplemented))
			return
		}

		appMentionEvent := event.InnerEvent.Data.(*slackevents.AppMentionEvent)
		requests := filterPossibleSymbols(strings.Fields(appMentionEvent.Text))
		caller := usage.Caller{SessionID: "slack:" + appMentionEvent.User, UserAgent: "slack"}

		var quotes []quote
		for _, req := range requests {
			symbols := strings.Join(req.symbols, ",")
			resp, err := h.quoter.Get(r.Context(), marketdata.Params{
				Type:    string(req.dataType),
				Symbols: &symbols,
				Caller:  caller,
			})
			if err != nil {
				var apiErr *marketdata.Error
				if errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests {
					h.log.WithFields(logger.Fields{"user": appMentionEvent.User}).Info("slack user rate limited")
					continue
				}
				h.respondWithErr(w, r, newHTTPErrorWithMessage(err, "getting quotes", http.StatusInternalServerError))
				return
			}
			quotes = append(quotes, quotesFrom(resp)...)
		}

		if len(quotes) == 0 {
			_, _, err = h.slackClient.PostMessageContext(
				r.Context(),
				appMentionEvent.Channel,
				slack.MsgOptionText("Sorry, I didn't find any valid market symbols in your message. :cry:", false),
				slack.MsgOptionTS(appMentionEvent.TimeStamp),
				slack.MsgOptionBroadcast(),
			)
		} else {
			_, _, err = h.slackClient.PostMessageContext(
				r.Context(),
				appMentionEvent.Channel,
				slack.MsgOptionBlocks(quoteBlocks(quotes)...),
				slack.MsgOptionTS(appMentionEvent.TimeStamp),
				slack.MsgOptionBroadcast(),
			)
		}
		if err != nil {
			// Best effort attempt to send a message indicating failure
			_, _, _ = h.slackClient.PostMessageContext(
				r.Context(),
				appMentionEvent.Channel, slack.MsgOptionText("Sorry, I messed something up... Try again later :poop:", true),
				slack.MsgOptionTS(appMentionEvent.TimeStamp),
				slack.MsgOptionBroadcast(),
			)
			h.respondWithErr(w, r, newHTTPErrorWithMessage(err, "responding to mention", http.StatusInternalServerError))
			return
		}
		w.Write([]byte(`{}`))
	default:
		h.respondWithErr(w, r, newHTTPError(errors.New("unhandled event"), http.StatusNotImplemented))
	}
}

func (h *eventHandler) validateRequest(r *http.Request) (slackevents.EventsAPIEvent, error) {
	if r.Method != http.MethodPost {
		return slackevents.EventsAPIEvent{}, newHTTPError(fmt.Errorf("invalid method: %s", r.Method), http.StatusMethodNotAllowed)
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return slackevents.EventsAPIEvent{}, fmt.Errorf("reading request body: %w", err)
	}
	defer r.Body.Close()

	if h.signingSecret == "" {
		h.log.Warn("no signing secret configured, skipping request verification")
	} else {
		sv, err := slack.NewSecretsVerifier(r.Header, h.signingSecret)
		if err != nil {
			return slackevents.EventsAPIEvent{}, fmt.Errorf("building slack secrets verifier: %w", err)
		}

		if _, err := sv.Write(body); err != nil {
			return slackevents.EventsAPIEvent{}, newHTTPErrorWithMessage(err, "verifying signature", http.StatusInternalServerError)
		}
		if err := sv.Ensure(); err != nil {
			return slackevents.EventsAPIEvent{}, newHTTPErrorWithMessage(err, "verifying signature", http.StatusUnauthorized)
		}
	}

	// NOTE prefer verifying signature over verification token.
	return slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
}

func (h *eventHandler) respondWithErr(w http.ResponseWriter, r *http.Request, err error) error {
	h.log.WithError(err).WithFields(logger.Fields{
		"method": r.Method,
		"url":    r.URL.String(),
	}).Warn("responding with error")

	var he *httpError
	if errors.As(err, &he) {
		w.WriteHeader(he.statusCode)
		return he.WriteResponse(w)
	}

	w.WriteHeader(http.StatusInternalServerError)
	return json.NewEncoder(w).Encode(&httpErrorResponse{
		StatusCode: http.StatusInternalServerError,
		Error:      err.Error(),
	})
}

type symbolRequest struct {
	dataType market.DataType
	symbols  []string
}

// filterPossibleSymbols groups the tokens that look like tickers: 3-4 letter
// US symbols, 4 digit Tokyo codes and BASE-TARGET currency pairs.
func filterPossibleSymbols(tokens []string) []symbolRequest {
	groups := map[market.DataType][]string{}
	for _, token := range tokens {
		if m := pairRegexp.FindStringSubmatch(token); m != nil {
			groups[market.ExchangeRate] = append(groups[market.ExchangeRate], strings.ToUpper(m[1]))
			continue
		}
		if m := jpSymbolRegexp.FindStringSubmatch(token); m != nil {
			groups[market.JPStock] = append(groups[market.JPStock], m[1])
			continue
		}
		if m := usSymbolRegexp.FindStringSubmatch(token); m != nil {
			groups[market.USStock] = append(groups[market.USStock], m[1])
		}
	}

	var out []symbolRequest
	for _, dt := range []market.DataType{market.USStock, market.JPStock, market.ExchangeRate} {
		if symbols := groups[dt]; len(symbols) > 0 {
			out = append(out, symbolRequest{dataType: dt, symbols: symbols})
		}
	}
	return out
}

type quote struct {
	key  string
	item market.Item
}

func quotesFrom(resp *marketdata.Response) []quote {
	keys := make([]string, 0, len(resp.Data))
	for k := range resp.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]quote, 0, len(keys))
	for _, k := range keys {
		out = append(out, quote{key: k, item: resp.Data[k]})
	}
	return out
}

func quoteBlocks(quotes []quote) []slack.Block {
	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, "Found the following quotes :chart_with_upwards_trend:", false, false),
			nil,
			nil,
		),
	}
	for i, q := range quotes {
		title := q.key
		if q.item.Name != "" && q.item.Name != q.key {
			title = fmt.Sprintf("%s (%s)", q.item.Name, q.key)
		}

		value := q.item.Price
		if q.item.Pair != "" {
			value = q.item.Rate
		}
		text := fmt.Sprintf("*%.2f %+.2f (%+.2f%%)*", value, q.item.Change, q.item.ChangePercent)
		if q.item.Source != market.SourceLive {
			text += fmt.Sprintf(" _%s_", q.item.Source)
		}

		blocks = append(blocks,
			slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, title, false, false)),
			slack.NewSectionBlock(
				slack.NewTextBlockObject(slack.MarkdownType, url.QueryEscape(text), false, true),
				nil,
				nil,
			),
		)
		if i != len(quotes)-1 {
			blocks = append(blocks, slack.NewDividerBlock())
		}
	}
	return blocks
}
