package httpserver_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/scoreproxy/internal/httpserver"
)

var _ = Describe("HTTP Server", func() {
	var (
		logger *slog.Logger
		noop   http.Handler
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		noop = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	})

	DescribeTable("address validation",
		func(addr string, valid bool) {
			srv, err := httpserver.New(addr, noop, httpserver.Options{}, logger)
			if valid {
				Expect(err).NotTo(HaveOccurred())
				Expect(srv.Addr()).To(Equal(addr))
			} else {
				Expect(err).To(HaveOccurred())
				Expect(srv).To(BeNil())
			}
		},
		Entry("host and port", "localhost:9999", true),
		Entry("ip and port", "127.0.0.1:9999", true),
		Entry("port only", ":9999", true),
		Entry("empty", "", false),
		Entry("too many colons", "invalid:host:port", false),
		Entry("missing port", "localhost", false),
		Entry("port out of range", "localhost:70000", false),
		Entry("bad host", "bad_host!:80", false),
	)

	Context("lifecycle", func() {
		var (
			srv *httpserver.Server
			ln  net.Listener
		)

		BeforeEach(func() {
			var err error
			ln, err = net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		})

		It("serves requests", func() {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("test"))
			})
			var err error
			srv, err = httpserver.New("127.0.0.1:0", handler, httpserver.Options{}, logger)
			Expect(err).NotTo(HaveOccurred())

			go func() {
				defer GinkgoRecover()
				Expect(srv.Serve(ln)).To(Succeed())
			}()

			Eventually(func() (string, error) {
				resp, err := http.Get("http://" + ln.Addr().String())
				if err != nil {
					return "", err
				}
				defer resp.Body.Close()
				body, err := io.ReadAll(resp.Body)
				return string(body), err
			}).Should(Equal("test"))
		})

		It("shuts down gracefully", func() {
			var err error
			srv, err = httpserver.New("127.0.0.1:0", noop, httpserver.Options{ShutdownTimeout: time.Second}, logger)
			Expect(err).NotTo(HaveOccurred())

			done := make(chan error, 1)
			go func() { done <- srv.Serve(ln) }()

			Eventually(func() error {
				resp, err := http.Get("http://" + ln.Addr().String())
				if err == nil {
					resp.Body.Close()
				}
				return err
			}).Should(Succeed())

			Expect(srv.Shutdown(context.Background())).To(Succeed())
			Eventually(done).Should(Receive(BeNil()))
		})
	})
})
