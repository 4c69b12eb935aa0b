package tor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestNewClient tests proxy address validation.
func TestNewClient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{name: "ip and port", address: "127.0.0.1:9050"},
		{name: "hostname and port", address: "localhost:9050"},
		{name: "empty", address: "", wantErr: true},
		{name: "missing port", address: "127.0.0.1", wantErr: true},
		{name: "empty host", address: ":9050", wantErr: true},
		{name: "empty port", address: "127.0.0.1:", wantErr: true},
		{name: "port zero", address: "127.0.0.1:0", wantErr: true},
		{name: "port too large", address: "127.0.0.1:65536", wantErr: true},
		{name: "non-numeric port", address: "127.0.0.1:tor", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client, err := NewClient(tt.address, time.Second)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidProxyAddress) {
					t.Errorf("expected ErrInvalidProxyAddress, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if client.ProxyAddress() != tt.address {
				t.Errorf("ProxyAddress() = %q, want %q", client.ProxyAddress(), tt.address)
			}
		})
	}
}

// TestNewHTTPClient tests the configuration of Tor HTTP clients.
func TestNewHTTPClient(t *testing.T) {
	t.Parallel()

	client, err := NewClient("127.0.0.1:9050", 45*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("plain client", func(t *testing.T) {
		t.Parallel()

		hc, err := client.NewHTTPClient(HTTPOptions{Session: "1"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if hc.Timeout != 45*time.Second {
			t.Errorf("Timeout = %v, want 45s", hc.Timeout)
		}
		if hc.Jar == nil {
			t.Error("expected a cookie jar")
		}
		transport, ok := hc.Transport.(*http.Transport)
		if !ok {
			t.Fatalf("Transport is %T, want *http.Transport", hc.Transport)
		}
		if !transport.DisableCompression {
			t.Error("expected compression to be disabled")
		}
		if !transport.TLSClientConfig.InsecureSkipVerify {
			t.Error("expected TLS verification to be skipped")
		}
	})

	t.Run("site credentials wrap the transport", func(t *testing.T) {
		t.Parallel()

		hc, err := client.NewHTTPClient(HTTPOptions{Cookie: "sid=1"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := hc.Transport.(*headerInjectingTransport); !ok {
			t.Errorf("Transport is %T, want *headerInjectingTransport", hc.Transport)
		}
	})
}

// TestHeaderInjectingTransport tests cookie and header injection.
func TestHeaderInjectingTransport(t *testing.T) {
	t.Parallel()

	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	rt := &headerInjectingTransport{
		base:    http.DefaultTransport,
		cookie:  "session=abc",
		headers: map[string]string{"X-Darc": "1"},
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req.Header.Set("Cookie", "lang=en")

	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if c := got.Get("Cookie"); c != "lang=en; session=abc" {
		t.Errorf("Cookie = %q, want %q", c, "lang=en; session=abc")
	}
	if h := got.Get("X-Darc"); h != "1" {
		t.Errorf("X-Darc = %q, want 1", h)
	}
	if req.Header.Get("X-Darc") != "" {
		t.Error("original request was modified")
	}
}

// TestCheckConnection tests the SOCKS5 handshake check against fake servers.
func TestCheckConnection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		serve func(conn net.Conn)
		want  ProxyStatus
	}{
		{
			name: "not socks",
			serve: func(conn net.Conn) {
				_, _ = conn.Read(make([]byte, 3))
				_, _ = conn.Write([]byte("HTTP/1.1 200 OK\r\n\r\n"))
			},
			want: ProxyStatusWrongType,
		},
		{
			name: "socks requiring auth",
			serve: func(conn net.Conn) {
				_, _ = conn.Read(make([]byte, 3))
				_, _ = conn.Write([]byte{0x05, 0xFF})
			},
			want: ProxyStatusWrongType,
		},
		{
			name: "working socks proxy",
			serve: func(conn net.Conn) {
				_, _ = conn.Read(make([]byte, 3))
				_, _ = conn.Write([]byte{0x05, 0x00})
				_, _ = conn.Read(make([]byte, 256))
				_, _ = conn.Write([]byte{0x05, 0x04, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
			},
			want: ProxyStatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			listener, err := net.Listen("tcp", "127.0.0.1:0") //nolint:noctx // test code
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer listener.Close()

			go func() {
				conn, err := listener.Accept()
				if err != nil {
					return
				}
				defer conn.Close()
				tt.serve(conn)
			}()

			client, err := NewClient(listener.Addr().String(), time.Second)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := client.CheckConnection(context.Background()); got != tt.want {
				t.Errorf("CheckConnection() = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("nothing listening", func(t *testing.T) {
		t.Parallel()

		listener, err := net.Listen("tcp", "127.0.0.1:0") //nolint:noctx // test code
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		addr := listener.Addr().String()
		listener.Close()

		client, err := NewClient(addr, time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := client.CheckConnection(context.Background()); got != ProxyStatusCannotConnect {
			t.Errorf("CheckConnection() = %v, want %v", got, ProxyStatusCannotConnect)
		}
	})
}

// TestProxyStatus tests status names and errors.
func TestProxyStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status ProxyStatus
		name   string
		err    error
	}{
		{status: ProxyStatusOK, name: "OK", err: nil},
		{status: ProxyStatusWrongType, name: "wrong type (not Tor)", err: ErrProxyNotTor},
		{status: ProxyStatusCannotConnect, name: "cannot connect", err: ErrProxyCannotConnect},
		{status: ProxyStatusTimeout, name: "timeout", err: ErrProxyTimeout},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.name {
			t.Errorf("String() = %q, want %q", got, tt.name)
		}
		if got := tt.status.Error(); !errors.Is(got, tt.err) {
			t.Errorf("%s: Error() = %v, want %v", tt.name, got, tt.err)
		}
	}
	if ProxyStatus(99).Error() == nil {
		t.Error("expected an error for an unknown status")
	}
}
