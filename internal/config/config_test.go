package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lumactl/lumactl/internal/config"
)

var _ = Describe("Parse", func() {
	It("applies defaults to an empty document", func() {
		cfg, err := config.Parse(strings.NewReader(""))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg).To(Equal(config.Default()))
	})

	It("overrides only the given settings", func() {
		cfg, err := config.Parse(strings.NewReader(`
socket: /run/user/1000/brightness.sock
ddc:
  timeout: 250ms
  ignore: [i2c-3]
hotplug:
  source: poll
  pollInterval: 1m
`))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.SocketPath()).To(Equal("/run/user/1000/brightness.sock"))
		Expect(cfg.DDC.Timeout).To(Equal(250 * time.Millisecond))
		Expect(cfg.DDC.ProbeBudget).To(Equal(10 * time.Second))
		Expect(cfg.DDC.Ignore).To(ConsistOf("i2c-3"))
		Expect(cfg.Hotplug.Source).To(Equal(config.HotplugPoll))
		Expect(cfg.Hotplug.PollInterval).To(Equal(time.Minute))
		Expect(cfg.Backlight.Enabled).To(BeTrue())
	})

	It("rejects unknown keys", func() {
		_, err := config.Parse(strings.NewReader("ddc:\n  vcp: 0x12\n"))
		Expect(err).To(HaveOccurred())
	})

	It("accumulates every validation problem", func() {
		_, err := config.Parse(strings.NewReader(`
sysfs: sys
ddc:
  timeout: 0s
  parallel: 0
  ignore: [DP-1]
hotplug:
  source: dbus
request:
  maxBytes: 10
`))
		Expect(err).To(HaveOccurred())
		msg := err.Error()
		for _, field := range []string{".sysfs", ".ddc.timeout", ".ddc.parallel", ".ddc.ignore[0]", ".hotplug.source", ".request.maxBytes"} {
			Expect(msg).To(ContainSubstring(field))
		}
	})

	It("requires at least one backend", func() {
		_, err := config.Parse(strings.NewReader("backlight: {enabled: false}\nddc: {enabled: false}\n"))
		Expect(err).To(MatchError(ContainSubstring("at least one backend")))
	})
})

var _ = Describe("Socket path", func() {
	It("lives in the runtime directory under a sanitized instance name", func() {
		GinkgoT().Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
		Expect(config.DefaultSocket("lumactl")).To(Equal("/run/user/1000/lumactl.sock"))

		path := config.DefaultSocket("../../etc/passwd")
		Expect(filepath.Dir(path)).To(Equal("/run/user/1000"))
		Expect(path).To(HaveSuffix(".sock"))
	})

	It("falls back to the temp dir", func() {
		GinkgoT().Setenv("XDG_RUNTIME_DIR", "")
		Expect(config.Default().SocketPath()).To(Equal(filepath.Join(os.TempDir(), "lumactl.sock")))
	})
})

var _ = Describe("Flag", func() {
	It("reads from a file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "lumad.yaml")
		Expect(os.WriteFile(path, []byte("instance: work\n"), 0o600)).To(Succeed())

		var f config.Flag
		Expect(f.Set("file:" + path)).To(Succeed())
		Expect(f.String()).To(Equal("file:" + path))
		cfg, err := f.Load()
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Instance).To(Equal("work"))
	})

	It("reads from an environment variable", func() {
		GinkgoT().Setenv("LUMAD_CONFIG", "hotplug: {source: fsnotify}")
		var f config.Flag
		Expect(f.Set("env:LUMAD_CONFIG")).To(Succeed())
		cfg, err := f.Load()
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Hotplug.Source).To(Equal(config.HotplugFSNotify))
	})

	It("fails on an unset environment variable", func() {
		var f config.Flag
		Expect(f.Set("env:LUMAD_CONFIG_MISSING")).To(Succeed())
		_, err := f.Load()
		Expect(err).To(MatchError(ContainSubstring("LUMAD_CONFIG_MISSING")))
	})

	It("uses defaults when no source is given", func() {
		var f config.Flag
		Expect(f.IsSet()).To(BeFalse())
		Expect(f.Load()).To(Equal(config.Default()))
	})

	DescribeTable("rejects unknown or incomplete source forms",
		func(value string) {
			var f config.Flag
			Expect(f.Set(value)).To(MatchError(ContainSubstring("invalid config source")))
			Expect(f.IsSet()).To(BeFalse())
		},
		Entry("url", "http://example.com/lumad.yaml"),
		Entry("file without a path", "file:"),
		Entry("env without a variable", "env:"),
		Entry("bare path", "/etc/lumad.yaml"),
	)

	It("reads from stdin", func() {
		var f config.Flag
		Expect(f.Set("stdin")).To(Succeed())
		Expect(f.IsSet()).To(BeTrue())
		Expect(f.String()).To(Equal("stdin"))
	})
})
