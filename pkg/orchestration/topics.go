package orchestration

import "fmt"

// TopicBuilder names every topic of the training protocol under
// m/<domain>/c/<channel>/fl.
type TopicBuilder struct {
	domainID  string
	channelID string
}

func NewTopicBuilder(domainID, channelID string) *TopicBuilder {
	return &TopicBuilder{
		domainID:  domainID,
		channelID: channelID,
	}
}

func (tb *TopicBuilder) BaseTopic() string {
	return fmt.Sprintf("m/%s/c/%s/fl", tb.domainID, tb.channelID)
}

func (tb *TopicBuilder) RegisterTopic() string {
	return tb.BaseTopic() + "/clients/register"
}

func (tb *TopicBuilder) RegisterAckTopic(clientID string) string {
	return tb.clientTopic(clientID) + "/ack"
}

func (tb *TopicBuilder) DispatchTopic(clientID string) string {
	return tb.clientTopic(clientID) + "/dispatch"
}

func (tb *TopicBuilder) RequestsTopic(clientID string) string {
	return tb.clientTopic(clientID) + "/requests"
}

func (tb *TopicBuilder) DispatchAckTopic() string {
	return tb.BaseTopic() + "/dispatch/ack"
}

func (tb *TopicBuilder) SubmitTopic() string {
	return tb.BaseTopic() + "/submit"
}

func (tb *TopicBuilder) DisconnectTopic() string {
	return tb.BaseTopic() + "/clients/disconnect"
}

func (tb *TopicBuilder) AliveTopic() string {
	return tb.BaseTopic() + "/clients/alive"
}

func (tb *TopicBuilder) RepliesTopic() string {
	return tb.BaseTopic() + "/replies"
}

func (tb *TopicBuilder) EventsTopic() string {
	return tb.BaseTopic() + "/events"
}

func (tb *TopicBuilder) clientTopic(clientID string) string {
	return tb.BaseTopic() + "/clients/" + clientID
}
