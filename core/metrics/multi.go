package metrics

import "errors"

// MultiSink fans events out to several sinks. Every sink is called even when
// an earlier one fails; the errors are joined.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func (m *MultiSink) RecordRound(ev RoundEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := s.RecordRound(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordNotification(ev NotificationEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(NotificationRecorder); ok {
			if err := r.RecordNotification(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordResponse(ev ResponseEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(ResponseRecorder); ok {
			if err := r.RecordResponse(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordLeadStatus(ev LeadStatusEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(LeadStatusRecorder); ok {
			if err := r.RecordLeadStatus(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
