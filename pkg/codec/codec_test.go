package codec

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
)

const codecTestPrefix = "codec:codec_test"

func TestDecode_Envelope(t *testing.T) {
	env, err := Decode(`{"wrappedApiName":"clearCache","callbackId":"7","path":"/foo.bin"}`)
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", codecTestPrefix, err)
	}
	if env.Capability != "clearCache" {
		t.Errorf("%s - Capability = %q, want clearCache", codecTestPrefix, env.Capability)
	}
	if !env.HasCallback || env.CallbackID != "7" {
		t.Errorf("%s - callback = (%q, %v), want (7, true)", codecTestPrefix, env.CallbackID, env.HasCallback)
	}
	if got, _ := env.Params.String("path"); got != "/foo.bin" {
		t.Errorf("%s - path param = %q, want /foo.bin", codecTestPrefix, got)
	}
	if _, ok := env.Params[KeyCapability]; ok {
		t.Errorf("%s - reserved key leaked into params", codecTestPrefix)
	}
	if _, ok := env.Params[KeyCallbackID]; ok {
		t.Errorf("%s - callbackId leaked into params", codecTestPrefix)
	}
}

func TestDecode_NumericCallbackID(t *testing.T) {
	env, err := Decode(`{"wrappedApiName":"playVibration","callbackId":42}`)
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", codecTestPrefix, err)
	}
	if env.CallbackID != "42" || !env.HasCallback {
		t.Errorf("%s - CallbackID = %q, want 42", codecTestPrefix, env.CallbackID)
	}
}

func TestDecode_FireAndForget(t *testing.T) {
	for _, raw := range []string{
		`{"wrappedApiName":"playVibration"}`,
		`{"wrappedApiName":"playVibration","callbackId":null}`,
	} {
		env, err := Decode(raw)
		if err != nil {
			t.Fatalf("%s - unexpected error for %s: %v", codecTestPrefix, raw, err)
		}
		if env.HasCallback {
			t.Errorf("%s - expected no callback for %s", codecTestPrefix, raw)
		}
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{name: "empty", raw: "", want: ErrEmptyMessage},
		{name: "whitespace", raw: "  \n\t", want: ErrEmptyMessage},
		{name: "null", raw: "null", want: ErrEmptyMessage},
		{name: "truncated", raw: `{"wrappedApiName":`, want: ErrParseFailure},
		{name: "garbage", raw: `not json`, want: ErrParseFailure},
		{name: "trailing data", raw: `{"wrappedApiName":"x"} {}`, want: ErrParseFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode(tt.raw)
			if err == nil {
				t.Fatalf("%s - expected error, got envelope %+v", codecTestPrefix, env)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("%s - error %v does not match %v", codecTestPrefix, err, tt.want)
			}
			var decErr *DecodeError
			if !errors.As(err, &decErr) {
				t.Errorf("%s - expected *DecodeError, got %T", codecTestPrefix, err)
			}
		})
	}
}

func TestDecode_NoCapabilityIsNoOp(t *testing.T) {
	for _, raw := range []string{`{"callbackId":"1"}`, `{"wrappedApiName":5}`, `[1,2]`, `"playVibration"`} {
		env, err := Decode(raw)
		if err != nil {
			t.Errorf("%s - unexpected error for %s: %v", codecTestPrefix, raw, err)
			continue
		}
		if env.Capability != "" {
			t.Errorf("%s - Capability = %q for %s, want empty", codecTestPrefix, env.Capability, raw)
		}
	}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{name: "bool", input: true, want: "true"},
		{name: "string", input: "Download completed", want: `"Download completed"`},
		{name: "object", input: map[string]string{"type": "qr", "stringValue": "abc"}, want: `{"stringValue":"abc","type":"qr"}`},
		{name: "script breaker", input: "</script><script>", want: `"\u003c/script\u003e\u003cscript\u003e"`},
		{name: "line separator", input: "a\u2028b", want: `"a\u2028b"`},
		{name: "failure", input: NewFailure("IO_FAILURE", "disk full"), want: `{"error":{"code":"IO_FAILURE","message":"disk full"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.input)
			if err != nil {
				t.Fatalf("%s - unexpected error: %v", codecTestPrefix, err)
			}
			if got != tt.want {
				t.Errorf("%s - Encode() = %s, want %s", codecTestPrefix, got, tt.want)
			}
		})
	}
}

func TestEncode_Unserializable(t *testing.T) {
	if _, err := Encode(make(chan int)); err == nil {
		t.Errorf("%s - expected error for channel", codecTestPrefix)
	}
}

func TestEncodeDecodeValue_PreservesContent(t *testing.T) {
	values := []any{
		"quote \" backslash \\ newline \n tab \t",
		"html <b>&amp;</b> and \u2028\u2029",
		"emoji 🌈 and 日本語",
		true,
		map[string]any{"type": "org.iso.QRCode", "stringValue": "');alert(1);//"},
		[]any{"a", "b"},
	}
	for _, v := range values {
		encoded, err := Encode(v)
		if err != nil {
			t.Fatalf("%s - encode %v: %v", codecTestPrefix, v, err)
		}
		got, err := DecodeValue(encoded)
		if err != nil {
			t.Fatalf("%s - decode %s: %v", codecTestPrefix, encoded, err)
		}
		if !reflect.DeepEqual(got, v) {
			t.Errorf("%s - round trip = %#v, want %#v", codecTestPrefix, got, v)
		}
		if strings.ContainsAny(encoded, "\u2028\u2029<>") {
			t.Errorf("%s - encoded value is not script safe: %s", codecTestPrefix, encoded)
		}
	}
}

func TestParams_Bind(t *testing.T) {
	env, err := Decode(`{"wrappedApiName":"downloadAndCache","url":"https://x/y","path":"a/b","isOverwrite":true}`)
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", codecTestPrefix, err)
	}
	var p struct {
		URL         string `json:"url"`
		Path        string `json:"path"`
		IsOverwrite bool   `json:"isOverwrite"`
	}
	if err := env.Params.Bind(&p); err != nil {
		t.Fatalf("%s - Bind: %v", codecTestPrefix, err)
	}
	if p.URL != "https://x/y" || p.Path != "a/b" || !p.IsOverwrite {
		t.Errorf("%s - bound params = %+v", codecTestPrefix, p)
	}

	var n struct {
		Count json.Number `json:"count"`
	}
	if err := (Params{"count": json.Number("3")}).Bind(&n); err != nil || n.Count != "3" {
		t.Errorf("%s - number bind = %v, %v", codecTestPrefix, n.Count, err)
	}
}
