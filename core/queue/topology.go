package queue

import (
	"strings"

	"github.com/kilianp07/leadroute/core/model"
)

// Logical queue names.
const (
	QueueLeadDistribution   = "lead.distribution"
	QueueLeadResponses      = "lead.responses"
	QueueNotificationsSMS   = "notifications.sms"
	QueueNotificationsEmail = "notifications.email"
	QueueDeadLetters        = "dead.letters"
)

// DeadLetterKey routes exhausted messages to the dead-letter queue.
const DeadLetterKey = "dead.letter"

// Channel is an outbound notification channel.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// Queue is a durable queue and the routing patterns bound to it.
type Queue struct {
	Name     string
	Bindings []string
	// DeadLetter is false only for the dead-letter queue itself.
	DeadLetter bool
}

// Topology lists every queue declared by a gateway.
func Topology() []Queue {
	return []Queue{
		{Name: QueueLeadDistribution, Bindings: []string{"lead.distribute.*"}, DeadLetter: true},
		{Name: QueueNotificationsSMS, Bindings: []string{"notification.sms.*"}, DeadLetter: true},
		{Name: QueueNotificationsEmail, Bindings: []string{"notification.email.*"}, DeadLetter: true},
		{Name: QueueLeadResponses, Bindings: []string{"lead.response.*"}, DeadLetter: true},
		{Name: QueueDeadLetters, Bindings: []string{DeadLetterKey}},
	}
}

// Lookup returns the queue named name.
func Lookup(name string) (Queue, bool) {
	for _, q := range Topology() {
		if q.Name == name {
			return q, true
		}
	}
	return Queue{}, false
}

// Route returns the names of queues whose bindings match key.
func Route(key string) []string {
	var out []string
	for _, q := range Topology() {
		for _, b := range q.Bindings {
			if Match(b, key) {
				out = append(out, q.Name)
				break
			}
		}
	}
	return out
}

// DistributeKey is lead.distribute.<priority>, or lead.distribute.emergency
// for emergency leads.
func DistributeKey(p model.Priority, emergency bool) string {
	if emergency {
		return "lead.distribute.emergency"
	}
	return "lead.distribute." + strings.ToLower(string(p))
}

// ResponseKey is lead.response.<accepted|declined>.
func ResponseKey(r model.Response) string { return "lead.response." + string(r) }

// NotificationKey is notification.<channel>.<priority>.
func NotificationKey(c Channel, p model.Priority) string {
	return "notification." + string(c) + "." + strings.ToLower(string(p))
}

// Match applies topic-exchange semantics: words are dot separated, "*"
// matches exactly one word and "#" matches zero or more.
func Match(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(p, k []string) bool {
	for len(p) > 0 {
		switch p[0] {
		case "#":
			if len(p) == 1 {
				return true
			}
			for i := 0; i <= len(k); i++ {
				if matchWords(p[1:], k[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(k) == 0 {
				return false
			}
		default:
			if len(k) == 0 || k[0] != p[0] {
				return false
			}
		}
		p, k = p[1:], k[1:]
	}
	return len(k) == 0
}
