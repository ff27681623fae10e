package device_test

import (
	"context"
	"errors"
	"time"

	"github.com/lumactl/lumactl/internal/device"
	"github.com/lumactl/lumactl/internal/device/devicetest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Handle", func() {
	var (
		ctx  context.Context
		fake *devicetest.Fake
		h    *device.Handle
	)

	BeforeEach(func() {
		ctx = context.Background()
		fake = devicetest.New("DP-1", device.DDC{}, 0, 100, 40)
		h = device.NewHandle(fake, 1, 40, device.Live)
	})

	It("should clamp writes into range and read back the clamped value", func() {
		for _, tc := range []struct{ in, want int }{{150, 100}, {-5, 0}, {63, 63}} {
			applied, err := h.Write(ctx, tc.in)
			Expect(err).NotTo(HaveOccurred())
			Expect(applied).To(Equal(tc.want))

			value, err := h.Read(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal(tc.want))
		}
	})

	It("should share the last-known value with its successor", func() {
		_, err := h.Write(ctx, 77)
		Expect(err).NotTo(HaveOccurred())

		next := h.Successor(fake, 2, 40, device.Live)
		Expect(next.Generation()).To(Equal(uint64(2)))
		Expect(next.Cached()).To(Equal(77))

		_, err = h.Write(ctx, 12)
		Expect(err).NotTo(HaveOccurred())
		Expect(next.Cached()).To(Equal(12))
	})

	It("should replace a cached value that no longer fits the successor's range", func() {
		_, err := h.Write(ctx, 90)
		Expect(err).NotTo(HaveOccurred())

		narrower := devicetest.New("DP-1", device.DDC{}, 0, 50, 30)
		next := h.Successor(narrower, 2, 30, device.Live)
		Expect(next.Cached()).To(Equal(30))
	})

	It("should serve the last written value from cache", func() {
		_, err := h.Write(ctx, 77)
		Expect(err).NotTo(HaveOccurred())
		reads := fake.Reads.Load()
		Expect(h.Cached()).To(Equal(77))
		Expect(fake.Reads.Load()).To(Equal(reads))
	})

	It("should saturate relative adjustments", func() {
		fake.SetValue(90)
		applied, err := h.Adjust(ctx, func(current int) int {
			return current + device.PercentDelta(20, 0, 100)
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(applied).To(Equal(100))
		Expect(fake.Value()).To(Equal(100))
	})

	It("should wrap backend failures as unreachable and mark the device stale", func() {
		fake.Fail(errors.New("permission denied"))
		_, err := h.Read(ctx)
		Expect(err).To(MatchError(device.ErrUnreachable))
		Expect(device.KindOf(err)).To(Equal(device.KindUnreachable))
		Expect(h.Liveness()).To(Equal(device.Stale))

		fake.Fail(nil)
		value, err := h.Read(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(value).To(Equal(40))
		Expect(h.Liveness()).To(Equal(device.Live))
	})

	It("should mark the device unreachable after a timeout", func() {
		fake.Stall(time.Second)
		tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := h.Read(tctx)
		Expect(err).To(MatchError(device.ErrUnreachable))
		Expect(time.Since(start)).To(BeNumerically("<", 500*time.Millisecond))
		Expect(h.Liveness()).To(Equal(device.Unreachable))

		fake.Stall(0)
		_, err = h.Write(ctx, 10)
		Expect(err).To(MatchError(device.ErrUnreachable))
		Expect(fake.Value()).To(Equal(40))
	})

	It("should refuse an initial value outside the range", func() {
		h := device.NewHandle(fake, 1, 400, device.Live)
		Expect(h.Liveness()).To(Equal(device.Unreachable))
		Expect(h.Cached()).To(Equal(100))
	})
})

var _ = Describe("Value conversions", func() {
	It("should treat clamping an in-range value as a no-op", func() {
		Expect(device.Clamp(5, 0, 10)).To(Equal(5))
		Expect(device.Clamp(device.Clamp(12, 0, 10), 0, 10)).To(Equal(10))
	})

	It("should round-trip percentages regardless of raw range", func() {
		for _, r := range [][2]int{{0, 100}, {0, 255}, {0, 19393}, {10, 37}, {0, 7}} {
			raw := device.FromPercent(50, r[0], r[1])
			Expect(device.ToPercent(raw, r[0], r[1])).To(BeNumerically("~", 50, 8))
		}
		Expect(device.ToPercent(device.FromPercent(50, 0, 255), 0, 255)).To(Equal(50))
	})

	It("should classify errors by kind", func() {
		Expect(device.KindOf(device.ErrDeviceNotFound)).To(Equal(device.KindDeviceNotFound))
		Expect(device.KindOf(device.ErrInvalidRequest)).To(Equal(device.KindInvalidRequest))
		Expect(device.KindOf(device.ErrProtocol)).To(Equal(device.KindProtocolError))
		Expect(device.KindOf(errors.New("boom"))).To(Equal(device.KindUnreachable))
	})
})
