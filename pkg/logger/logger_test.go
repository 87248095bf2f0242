package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/scoreproxy/pkg/logger"
)

var _ = Describe("Logger", func() {
	var buf *bytes.Buffer

	BeforeEach(func() {
		buf = &bytes.Buffer{}
	})

	Describe("New", func() {
		It("should write JSON in prod", func() {
			log := logger.New(buf, "info", false, "prod")
			log.Info("backend selected", slog.String("backend", "http://a:1"))

			var record map[string]any
			Expect(json.Unmarshal(buf.Bytes(), &record)).To(Succeed())
			Expect(record).To(HaveKeyWithValue("msg", "backend selected"))
			Expect(record).To(HaveKeyWithValue("environment", "prod"))
			Expect(record).To(HaveKeyWithValue("backend", "http://a:1"))
		})

		It("should write text elsewhere", func() {
			log := logger.New(buf, "info", false, "dev")
			log.Info("hello")
			Expect(buf.String()).To(ContainSubstring("msg=hello"))
			Expect(buf.String()).To(ContainSubstring("environment=dev"))
		})

		It("should drop records below the level", func() {
			log := logger.New(buf, "warn", false, "dev")
			log.Info("quiet")
			Expect(buf.Len()).To(BeZero())
			Expect(log.Enabled(context.Background(), slog.LevelWarn)).To(BeTrue())
		})

		It("should include the source when asked", func() {
			log := logger.New(buf, "info", true, "dev")
			log.Info("where")
			Expect(buf.String()).To(ContainSubstring("source="))
		})

		It("should default to stdout", func() {
			Expect(logger.New(nil, "info", false, "dev")).NotTo(BeNil())
		})
	})

	DescribeTable("ParseLevel",
		func(name string, expected slog.Level) {
			Expect(logger.ParseLevel(name)).To(Equal(expected))
		},
		Entry("debug", "debug", slog.LevelDebug),
		Entry("info", "info", slog.LevelInfo),
		Entry("warn", "WARN", slog.LevelWarn),
		Entry("error", "error", slog.LevelError),
		Entry("unknown", "verbose", slog.LevelInfo),
	)
})
