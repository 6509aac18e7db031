package bladerf

import (
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/CellWizard/gr-osmosdr/internal/logging"
)

// fakeSession scripts device behavior per call: receiveErrs[i] is the
// outcome of the i-th receive, configErrs[i] of the i-th stream
// configuration. Successful receives fill the raw buffer with fillWord
// unless fillFunc overrides the pattern.
type fakeSession struct {
	max int

	configCalls int
	configErrs  []error
	lastConfig  StreamConfig

	enables    []string
	enableErr  error
	disableErr error

	receiveCalls int
	receiveErrs  []error
	fillWord     int16
	fillFunc     func(dst []int16, n int)
	metas        []Metadata
	plainCalls   int

	closed bool
}

func (f *fakeSession) ConfigureStream(cfg StreamConfig) error {
	f.configCalls++
	f.lastConfig = cfg
	if f.configCalls <= len(f.configErrs) {
		if err := f.configErrs[f.configCalls-1]; err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeSession) EnableChannel(ch int, enable bool) error {
	if enable {
		f.enables = append(f.enables, fmt.Sprintf("on:%d", ch))
		return f.enableErr
	}
	f.enables = append(f.enables, fmt.Sprintf("off:%d", ch))
	return f.disableErr
}

func (f *fakeSession) Receive(dst []int16, n int, meta *Metadata, timeout time.Duration) error {
	f.receiveCalls++
	if meta != nil {
		f.metas = append(f.metas, *meta)
	} else {
		f.plainCalls++
	}
	if f.receiveCalls <= len(f.receiveErrs) {
		if err := f.receiveErrs[f.receiveCalls-1]; err != nil {
			return err
		}
	}
	if f.fillFunc != nil {
		f.fillFunc(dst, n)
		return nil
	}
	for i := 0; i < 2*n; i++ {
		dst[i] = f.fillWord
	}
	return nil
}

func (f *fakeSession) MaxChannels() int {
	if f.max == 0 {
		return 2
	}
	return f.max
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

func newTestSource(t *testing.T, cfg Config, sess Session) *Source {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = logging.New(logging.Error, logging.Text, io.Discard)
	}
	if cfg.SamplesPerBuffer == 0 {
		cfg.SamplesPerBuffer = 32
	}
	s, err := New(cfg, sess)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func outBuffers(streams, per int) [][]complex64 {
	out := make([][]complex64, streams)
	for i := range out {
		out[i] = make([]complex64, per)
	}
	return out
}

// expectWords runs the production conversion over a raw word pattern so
// engine tests compare against the pinned converter, not a reimplementation.
func expectWords(words []int16) []complex64 {
	out := make([]complex64, len(words))
	convertPacked8(out, words)
	return out
}

func TestProduceNotRunning(t *testing.T) {
	fake := &fakeSession{}
	s := newTestSource(t, Config{}, fake)

	n, err := s.Produce(outBuffers(1, 8), 8)
	if n != 0 || err != nil {
		t.Fatalf("Produce on stopped source = (%d, %v), want (0, nil)", n, err)
	}
	if fake.receiveCalls != 0 {
		t.Errorf("stopped source touched the session %d times", fake.receiveCalls)
	}
}

func TestStartConfiguresAndEnables(t *testing.T) {
	fake := &fakeSession{}
	s := newTestSource(t, Config{}, fake)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cfg := fake.lastConfig
	if cfg.Layout != LayoutX1 {
		t.Errorf("layout = %d, want X1", cfg.Layout)
	}
	if cfg.Format != FormatSC16Q11 {
		t.Errorf("format = %v, want sc16q11", cfg.Format)
	}
	if cfg.NumBuffers != DefaultNumBuffers || cfg.NumTransfers != DefaultNumTransfers {
		t.Errorf("geometry = %d buffers / %d transfers, want defaults", cfg.NumBuffers, cfg.NumTransfers)
	}
	if cfg.Timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", cfg.Timeout, DefaultTimeout)
	}
	if len(fake.enables) != 1 || fake.enables[0] != "on:0" {
		t.Errorf("enables = %v, want [on:0]", fake.enables)
	}
	if !s.Running() {
		t.Error("source not running after Start")
	}
}

func TestStopIdempotent(t *testing.T) {
	fake := &fakeSession{}
	s := newTestSource(t, Config{}, fake)

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}
	if len(fake.enables) != 0 {
		t.Errorf("Stop before Start touched channels: %v", fake.enables)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	want := []string{"on:0", "off:0"}
	if len(fake.enables) != len(want) {
		t.Fatalf("enables = %v, want %v", fake.enables, want)
	}
	for i := range want {
		if fake.enables[i] != want[i] {
			t.Fatalf("enables = %v, want %v", fake.enables, want)
		}
	}
}

func TestProduceDeliversConvertedSamples(t *testing.T) {
	fake := &fakeSession{fillWord: 0x0201}
	s := newTestSource(t, Config{}, fake)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	const n = 8
	out := outBuffers(1, n)
	got, err := s.Produce(out, n)
	if err != nil || got != n {
		t.Fatalf("Produce = (%d, %v), want (%d, nil)", got, err, n)
	}

	words := make([]int16, n)
	for i := range words {
		words[i] = 0x0201
	}
	want := expectWords(words)
	for i := range want {
		if out[0][i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, out[0][i], want[i])
		}
	}
	if st := s.Stats(); st.Delivered != n {
		t.Errorf("Stats().Delivered = %d, want %d", st.Delivered, n)
	}
}

func TestProduceFailureThresholdEndsStream(t *testing.T) {
	boom := errors.New("timeout")
	fake := &fakeSession{receiveErrs: []error{boom, boom, boom}}
	s := newTestSource(t, Config{}, fake)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	out := outBuffers(1, 8)
	for call := 1; call <= 2; call++ {
		got, err := s.Produce(out, 8)
		if got != 8 || err != nil {
			t.Fatalf("call %d = (%d, %v), want success-shaped (8, nil)", call, got, err)
		}
	}
	got, err := s.Produce(out, 8)
	if got != 0 || err != io.EOF {
		t.Fatalf("call 3 = (%d, %v), want (0, io.EOF)", got, err)
	}
	if !s.Running() {
		t.Error("end of stream flipped the running flag; that is the caller's job")
	}
	if st := s.Stats(); st.Failed != 3 {
		t.Errorf("Stats().Failed = %d, want 3", st.Failed)
	}
}

func TestProduceFailureCounterResets(t *testing.T) {
	boom := errors.New("timeout")
	fake := &fakeSession{receiveErrs: []error{boom, boom, nil, boom, boom, boom}}
	s := newTestSource(t, Config{}, fake)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	out := outBuffers(1, 8)
	for call := 1; call <= 5; call++ {
		got, err := s.Produce(out, 8)
		if got != 8 || err != nil {
			t.Fatalf("call %d = (%d, %v), want (8, nil)", call, got, err)
		}
	}
	got, err := s.Produce(out, 8)
	if got != 0 || err != io.EOF {
		t.Fatalf("call 6 = (%d, %v), want (0, io.EOF)", got, err)
	}
}

func TestProduceFailureDeliversStaleBuffer(t *testing.T) {
	boom := errors.New("timeout")
	fake := &fakeSession{fillWord: 0x0202, receiveErrs: []error{nil, boom}}
	s := newTestSource(t, Config{}, fake)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	const n = 8
	out := outBuffers(1, n)
	if _, err := s.Produce(out, n); err != nil {
		t.Fatalf("first Produce: %v", err)
	}

	// The session would write a new pattern now, but the receive fails
	// and must leave the previous words in place.
	fake.fillWord = 0x0303
	out2 := outBuffers(1, n)
	got, err := s.Produce(out2, n)
	if got != n || err != nil {
		t.Fatalf("Produce after failure = (%d, %v), want (%d, nil)", got, err, n)
	}

	words := make([]int16, n)
	for i := range words {
		words[i] = 0x0202
	}
	want := expectWords(words)
	for i := range want {
		if out2[0][i] != want[i] {
			t.Errorf("sample %d = %v, want stale %v", i, out2[0][i], want[i])
		}
	}
}

func TestProduceMetadataOnlyForMetaFormat(t *testing.T) {
	fake := &fakeSession{}
	s := newTestSource(t, Config{Format: FormatSC16Q11Meta}, fake)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := s.Produce(outBuffers(1, 8), 8); err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if len(fake.metas) != 1 {
		t.Fatalf("metadata passed %d times, want 1", len(fake.metas))
	}
	m := fake.metas[0]
	if m.Flags != MetaFlagRXNow || m.Timestamp != 0 || m.Status != 0 {
		t.Errorf("metadata = %+v, want zeroed with the RX-now flag", m)
	}

	plain := &fakeSession{}
	s2 := newTestSource(t, Config{}, plain)
	if err := s2.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := s2.Produce(outBuffers(1, 8), 8); err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if plain.plainCalls != 1 || len(plain.metas) != 0 {
		t.Errorf("plain format passed metadata: %d plain, %d meta", plain.plainCalls, len(plain.metas))
	}
}

func TestProduceValidation(t *testing.T) {
	fake := &fakeSession{}
	s := newTestSource(t, Config{SamplesPerBuffer: 16}, fake)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := s.Produce(outBuffers(1, 8), 7); !errors.Is(err, ErrConfiguration) {
		t.Errorf("odd sample count: %v, want ErrConfiguration", err)
	}
	if _, err := s.Produce(outBuffers(1, 8), 0); !errors.Is(err, ErrConfiguration) {
		t.Errorf("zero sample count: %v, want ErrConfiguration", err)
	}
	if _, err := s.Produce(outBuffers(1, 32), 32); !errors.Is(err, ErrResourceExhausted) {
		t.Errorf("oversized draw: %v, want ErrResourceExhausted", err)
	}
	if _, err := s.Produce(nil, 8); !errors.Is(err, ErrConfiguration) {
		t.Errorf("missing output buffers: %v, want ErrConfiguration", err)
	}
	if _, err := s.Produce(outBuffers(1, 4), 8); !errors.Is(err, ErrConfiguration) {
		t.Errorf("short output buffer: %v, want ErrConfiguration", err)
	}
	if fake.receiveCalls != 0 {
		t.Errorf("invalid draws reached the session %d times", fake.receiveCalls)
	}
}

func TestDualStreamRoundRobin(t *testing.T) {
	fake := &fakeSession{
		fillFunc: func(dst []int16, n int) {
			for i := 0; i < 2*n; i++ {
				dst[i] = int16(i)
			}
		},
	}
	s := newTestSource(t, Config{NumStreams: 2}, fake)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if fake.lastConfig.Layout != LayoutX2 {
		t.Errorf("layout = %d, want X2", fake.lastConfig.Layout)
	}

	const n = 8
	out := outBuffers(2, n/2)
	got, err := s.Produce(out, n)
	if got != n || err != nil {
		t.Fatalf("Produce = (%d, %v), want (%d, nil)", got, err, n)
	}

	words := make([]int16, n)
	for i := range words {
		words[i] = int16(i)
	}
	want := expectWords(words)
	for i := 0; i < n/2; i++ {
		if out[0][i] != want[2*i] {
			t.Errorf("stream 0 sample %d = %v, want %v", i, out[0][i], want[2*i])
		}
		if out[1][i] != want[2*i+1] {
			t.Errorf("stream 1 sample %d = %v, want %v", i, out[1][i], want[2*i+1])
		}
	}
}

func TestSetAntennaWhileStreaming(t *testing.T) {
	fake := &fakeSession{}
	s := newTestSource(t, Config{}, fake)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	name, err := s.SetAntenna(0, "RX2")
	if err != nil {
		t.Fatalf("SetAntenna: %v", err)
	}
	if name != "RX2" {
		t.Errorf("SetAntenna returned %q, want RX2", name)
	}

	want := []string{"on:0", "off:0", "on:1"}
	if len(fake.enables) != len(want) {
		t.Fatalf("enables = %v, want %v", fake.enables, want)
	}
	for i := range want {
		if fake.enables[i] != want[i] {
			t.Fatalf("enables = %v, want %v", fake.enables, want)
		}
	}
	if fake.configCalls != 2 {
		t.Errorf("stream configured %d times, want 2", fake.configCalls)
	}
	if st := s.Stats(); st.Restarts != 1 {
		t.Errorf("Stats().Restarts = %d, want 1", st.Restarts)
	}
	if got, _ := s.Antenna(0); got != "RX2" {
		t.Errorf("Antenna(0) = %q, want RX2", got)
	}
	if !s.Running() {
		t.Error("source stopped after antenna change")
	}
	if _, err := s.Produce(outBuffers(1, 8), 8); err != nil {
		t.Errorf("Produce after antenna change: %v", err)
	}
}

func TestSetAntennaInvalidName(t *testing.T) {
	fake := &fakeSession{}
	s := newTestSource(t, Config{}, fake)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := s.SetAntenna(0, "TX1"); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("SetAntenna(TX1): %v, want ErrConfiguration", err)
	}
	if _, err := s.SetAntenna(0, "RX5"); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("SetAntenna(RX5): %v, want ErrConfiguration", err)
	}
	if len(fake.enables) != 1 {
		t.Errorf("invalid antenna disturbed the stream: %v", fake.enables)
	}
	if !s.Running() {
		t.Error("invalid antenna stopped the source")
	}
}

func TestSetAntennaRestartFailure(t *testing.T) {
	boom := errors.New("sync config refused")
	fake := &fakeSession{configErrs: []error{nil, boom}}
	s := newTestSource(t, Config{}, fake)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := s.SetAntenna(0, "RX2"); err == nil {
		t.Fatal("SetAntenna with failing restart returned nil")
	}
	if s.Running() {
		t.Error("source claims to run after a failed restart")
	}
	// The remap held; a later Start picks it up.
	if err := s.Start(); err != nil {
		t.Fatalf("Start after failed restart: %v", err)
	}
	if got, _ := s.Antenna(0); got != "RX2" {
		t.Errorf("Antenna(0) = %q, want RX2", got)
	}
}

func TestSetAntennaOnStoppedSource(t *testing.T) {
	fake := &fakeSession{}
	s := newTestSource(t, Config{}, fake)

	name, err := s.SetAntenna(0, "RX2")
	if err != nil || name != "RX2" {
		t.Fatalf("SetAntenna = (%q, %v), want (RX2, nil)", name, err)
	}
	if len(fake.enables) != 0 || fake.configCalls != 0 {
		t.Errorf("stopped remap touched the device: %v / %d configs", fake.enables, fake.configCalls)
	}
	if s.Running() {
		t.Error("remap started the source")
	}
}

func TestStartFailuresLeaveSourceStopped(t *testing.T) {
	boom := errors.New("boom")

	cfgFail := &fakeSession{configErrs: []error{boom}}
	s := newTestSource(t, Config{}, cfgFail)
	if err := s.Start(); err == nil {
		t.Fatal("Start with failing configure returned nil")
	}
	if s.Running() {
		t.Error("source running after configure failure")
	}
	if len(cfgFail.enables) != 0 {
		t.Errorf("channels touched after configure failure: %v", cfgFail.enables)
	}

	enFail := &fakeSession{enableErr: boom}
	s2 := newTestSource(t, Config{}, enFail)
	if err := s2.Start(); err == nil {
		t.Fatal("Start with failing enable returned nil")
	}
	if s2.Running() {
		t.Error("source running after enable failure")
	}
}

func TestStopDisableErrorStillStops(t *testing.T) {
	boom := errors.New("boom")
	fake := &fakeSession{disableErr: boom}
	s := newTestSource(t, Config{}, fake)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := s.Stop(); err == nil {
		t.Fatal("Stop with failing disable returned nil")
	}
	if s.Running() {
		t.Error("source still running after Stop error")
	}
	if n, err := s.Produce(outBuffers(1, 8), 8); n != 0 || err != nil {
		t.Errorf("Produce after Stop = (%d, %v), want (0, nil)", n, err)
	}
}

func TestCloseReleasesSession(t *testing.T) {
	fake := &fakeSession{}
	s := newTestSource(t, Config{}, fake)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !fake.closed {
		t.Error("session not closed")
	}
	if s.Running() {
		t.Error("source running after Close")
	}
}

func TestStreamCountClampsToDevice(t *testing.T) {
	fake := &fakeSession{max: 2}
	s := newTestSource(t, Config{NumStreams: 4}, fake)

	if got := s.ActiveChannels(); got != 2 {
		t.Errorf("ActiveChannels() = %d, want 2", got)
	}
	if got := s.MaxChannels(); got != 2 {
		t.Errorf("MaxChannels() = %d, want 2", got)
	}
	ants := s.Antennas()
	if len(ants) != 2 || ants[0] != "RX1" || ants[1] != "RX2" {
		t.Errorf("Antennas() = %v, want [RX1 RX2]", ants)
	}
}

func TestControlPlaneDegradesWithoutCapabilities(t *testing.T) {
	fake := &fakeSession{}
	s := newTestSource(t, Config{}, fake)

	if rate, err := s.SetSampleRate(1_000_000); rate != 1_000_000 || err != nil {
		t.Errorf("SetSampleRate = (%d, %v), want echo", rate, err)
	}
	if rate, err := s.SampleRate(); rate != 0 || err != nil {
		t.Errorf("SampleRate = (%d, %v), want (0, nil)", rate, err)
	}
	if freq, err := s.SetFrequency(0, 100_000_000); freq != 100_000_000 || err != nil {
		t.Errorf("SetFrequency = (%v, %v), want echo", freq, err)
	}
	if bw, err := s.SetBandwidth(0, 1_500_000); bw != 1_500_000 || err != nil {
		t.Errorf("SetBandwidth = (%v, %v), want echo", bw, err)
	}
	if gain, err := s.SetGain(0, 30); gain != 30 || err != nil {
		t.Errorf("SetGain = (%v, %v), want echo", gain, err)
	}
	if err := s.SetGainMode(0, true); err != nil {
		t.Errorf("SetGainMode: %v", err)
	}
	if err := s.SetAGCMode("fast"); err != nil {
		t.Errorf("SetAGCMode: %v", err)
	}
	if ppm, err := s.SetFrequencyCorrection(0, 1.5); ppm != 0 || err != nil {
		t.Errorf("SetFrequencyCorrection = (%v, %v), want (0, nil)", ppm, err)
	}
	if err := s.SetBiasTee(true); err != nil {
		t.Errorf("SetBiasTee: %v", err)
	}
	if err := s.SetLoopback(LoopbackFirmware); err != nil {
		t.Errorf("SetLoopback: %v", err)
	}
	if err := s.SetRXMux(RXMuxBaseband); err != nil {
		t.Errorf("SetRXMux: %v", err)
	}
	if err := s.SetSampling(SamplingInternal); err != nil {
		t.Errorf("SetSampling: %v", err)
	}
	if err := s.SetDCOffsetMode(0, CorrectionOff); err != nil {
		t.Errorf("SetDCOffsetMode: %v", err)
	}
	if err := s.SetIQBalance(0, complex(0.1, 0)); err != nil {
		t.Errorf("SetIQBalance: %v", err)
	}
	if src, err := s.ClockSource(); src != "internal" || err != nil {
		t.Errorf("ClockSource = (%q, %v), want internal", src, err)
	}
	if err := s.SetClockSource("external"); err != nil {
		t.Errorf("SetClockSource: %v", err)
	}

	if _, err := s.SetFrequency(5, 1); !errors.Is(err, ErrConfiguration) {
		t.Errorf("SetFrequency on missing stream: %v, want ErrConfiguration", err)
	}
}
