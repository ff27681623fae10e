package hotplug

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"
)

// FallbackSource runs Primary and, if it stops with an error, Secondary in
// its place.
type FallbackSource struct {
	Primary   Source
	Secondary Source
}

func WithFallback(primary, secondary Source) *FallbackSource {
	return &FallbackSource{Primary: primary, Secondary: secondary}
}

func (f *FallbackSource) Name() string {
	return fmt.Sprintf("%s|%s", f.Primary.Name(), f.Secondary.Name())
}

func (f *FallbackSource) Run(ctx context.Context, out Publisher) error {
	err := f.Primary.Run(ctx, out)
	if err == nil || ctx.Err() != nil {
		return err
	}
	klog.Errorf("hotplug: %s source failed, falling back to %s: %v", f.Primary.Name(), f.Secondary.Name(), err)
	return f.Secondary.Run(ctx, out)
}
