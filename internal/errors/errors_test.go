package errors

import "testing"

func TestCategoryChecks(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{"connection dead is transport", ErrConnectionDead, IsTransportFault, true},
		{"ping failed is transport", ErrPingFailed, IsTransportFault, true},
		{"ack miss is transport", ErrSubscribeAck, IsTransportFault, true},
		{"decode is not transport", ErrDecode, IsTransportFault, false},
		{"write failed is persistence", ErrWriteFailed, IsPersistenceFault, true},
		{"compress failed is persistence", ErrCompressFailed, IsPersistenceFault, true},
		{"delete failed is persistence", ErrDeleteFailed, IsPersistenceFault, true},
		{"manifest missing is config", ErrManifestMissing, IsConfigFault, true},
		{"channel URL is config", ErrChannelURL, IsConfigFault, true},
		{"transport is not config", ErrTransport, IsConfigFault, false},
		{"nil is nothing", nil, IsPersistenceFault, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.check(tt.err); got != tt.want {
				t.Errorf("check(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestWrappersPreserveCategory(t *testing.T) {
	err := Persistencef("open %s: %v", "/data/f.csv", New("disk full"))
	if !IsPersistenceFault(err) {
		t.Error("Persistencef result not a persistence fault")
	}
	if IsTransportFault(err) {
		t.Error("Persistencef result misclassified as transport fault")
	}

	if !IsTransportFault(Transportf("dial: %v", New("refused"))) {
		t.Error("Transportf result not a transport fault")
	}
	if !IsDecodeFault(Decodef("bad frame")) {
		t.Error("Decodef result not a decode fault")
	}
	if !IsConfigFault(Configf("bad value")) {
		t.Error("Configf result not a config fault")
	}
}
