package audio

import (
	"errors"
	"testing"
)

func TestFindDevice(t *testing.T) {
	ctx := NewFakeContext(nil, false)
	ctx.SetDevices([]DeviceInfo{{ID: "1", Name: "Built-in"}, {ID: "2", Name: "USB Headset"}})

	d, err := FindDevice(ctx, "USB Headset")
	if err != nil {
		t.Fatal(err)
	}
	if d.ID != "2" {
		t.Errorf("ID = %q, want 2", d.ID)
	}

	if _, err := FindDevice(ctx, "AirPods"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("err = %v, want ErrDeviceNotFound", err)
	}

	ctx.SetDevices(nil)
	if _, err := FindDevice(ctx, "Built-in"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("empty list: err = %v, want ErrDeviceNotFound", err)
	}
}
