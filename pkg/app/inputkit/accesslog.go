package inputkit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bookingcom/inputkit/pkg/util"
)

// AccessLogDetails is what an access log line is built from.
type AccessLogDetails struct {
	Handler       string            `json:"handler,omitempty"`
	InputkitUUID  string            `json:"inputkit_uuid,omitempty"`
	Username      string            `json:"username,omitempty"`
	Url           string            `json:"url,omitempty"`
	PeerIp        string            `json:"peer_ip,omitempty"`
	PeerPort      string            `json:"peer_port,omitempty"`
	Host          string            `json:"host,omitempty"`
	Referer       string            `json:"referer,omitempty"`
	Format        string            `json:"format,omitempty"`
	UseCache      bool              `json:"use_cache,omitempty"`
	HeadersData   map[string]string `json:"headers_data,omitempty"`
	RequestMethod string            `json:"request_method,omitempty"`
	Measurement   string            `json:"measurement,omitempty"`
	Interval      string            `json:"interval,omitempty"`
	ValueType     string            `json:"value_type,omitempty"`
	CacheTimeout  int32             `json:"cache_timeout,omitempty"`
	Runtime       float64           `json:"runtime,omitempty"`
	HttpCode      int32             `json:"http_code"`
	ResponseSize  int64             `json:"response_size_bytes,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	From          int64             `json:"from,omitempty"`
	Until         int64             `json:"until,omitempty"`
	Tz            string            `json:"tz,omitempty"`
	FromRaw       string            `json:"from_raw,omitempty"`
	UntilRaw      string            `json:"until_raw,omitempty"`
	Path          string            `json:"path,omitempty"`
	Uri           string            `json:"uri,omitempty"`
	FromCache     bool              `json:"from_cache"`
	CacheErrs     string            `json:"cache_errs,omitempty"`
	Chunks        int               `json:"chunks,omitempty"`
	Points        int               `json:"points,omitempty"`
}

func splitAddr(addr string) (string, string) {
	i := strings.LastIndex(addr, ":")
	if i < 0 {
		return addr, ""
	}

	return addr[:i], addr[i+1:]
}

func NewAccessLogDetails(r *http.Request, handler string, headersToLog []string) AccessLogDetails {
	username, _, _ := r.BasicAuth()
	srcIP, srcPort := splitAddr(r.RemoteAddr)

	return AccessLogDetails{
		Handler:      handler,
		Username:     username,
		InputkitUUID: util.GetUUID(r.Context()),
		HeadersData:  getHeadersData(r, headersToLog),
		Url:          r.URL.String(),
		PeerIp:       srcIP,
		PeerPort:     srcPort,
		Host:         r.Host,
		Path:         r.URL.Path,
		Referer:      r.Referer(),
		Uri:          r.RequestURI,
		// 0 means the code is not specified
		HttpCode: 0,
	}
}

func getHeadersData(r *http.Request, headersToLog []string) map[string]string {
	headerData := make(map[string]string)
	for _, headerToLog := range headersToLog {
		headerValue := r.Header.Get(headerToLog)
		if headerValue != "" {
			headerData[headerToLog] = headerValue
		}
	}

	return headerData
}

// GetLogFields turns the non-empty details into zap fields, sorted by key.
func (d *AccessLogDetails) GetLogFields() ([]zapcore.Field, error) {
	blob, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(blob, &m); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]zapcore.Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, zap.Any(k, m[k]))
	}

	return fields, nil
}

func addCacheErrorToLogDetails(d *AccessLogDetails, isRead bool, err error) {
	if err == nil {
		return
	}
	prefix := "set: "
	if isRead {
		prefix = "get: "
	}
	d.CacheErrs += prefix + err.Error() + ","
}

func (app *App) deferredAccessLogging(accessLogger *zap.Logger, r *http.Request, accessLogDetails *AccessLogDetails, t time.Time, level zapcore.Level) {
	accessLogDetails.Runtime = time.Since(t).Seconds()
	accessLogDetails.RequestMethod = r.Method

	fields, err := accessLogDetails.GetLogFields()
	if err != nil {
		accessLogger.Error("could not marshal access log details", zap.Error(err))
	}
	var logMsg string
	if accessLogDetails.HttpCode/100 < 4 {
		logMsg = "request served"
	} else if accessLogDetails.HttpCode/100 == 4 {
		logMsg = "request failed with client error"
	} else {
		logMsg = "request failed with server error"
	}
	if ce := accessLogger.Check(level, logMsg); ce != nil {
		ce.Write(fields...)
	}

	if app != nil {
		app.ms.Responses.WithLabelValues(
			strconv.Itoa(int(accessLogDetails.HttpCode)),
			accessLogDetails.Handler,
			fmt.Sprintf("%t", accessLogDetails.FromCache)).Inc()
		if accessLogDetails.HttpCode/100 >= 4 {
			app.gm.Errors.Add(1)
		} else {
			app.gm.Responses.Add(1)
		}
	}
}
