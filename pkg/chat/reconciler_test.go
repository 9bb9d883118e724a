package chat_test

import (
	"github.com/finchley/parley/pkg/chat"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Reconcile", func() {
	It("should rebuild a fresh conversation entirely from the buffer", func() {
		buffer := []chat.Chunk{
			{Seq: 1, Content: "hi", Sender: &chat.SenderInfo{SenderID: "s1"}},
			{Seq: 2, MessageID: "m1", Content: "Hel"},
			{Seq: 3, MessageID: "m1", Content: "lo"},
			{Seq: 4, MessageID: "m1", Done: true},
		}

		result := chat.Reconcile(buffer, nil, nil)

		Expect(result.Merged).To(HaveLen(2))
		Expect(result.Merged[0].IsUser()).To(BeTrue())
		Expect(result.Merged[0].Content).To(Equal("hi"))
		Expect(result.Merged[1].IsAssistant()).To(BeTrue())
		Expect(result.Merged[1].Content).To(Equal("Hello"))
		Expect(result.Merged[1].ID).To(Equal("m1"))
		Expect(result.Streaming).To(BeNil())
	})

	It("should leave history untouched when the buffer only holds an in-progress turn", func() {
		history := []chat.Message{
			chat.NewUserMessage("hi"),
			chat.NewAssistantMessage("Hello").WithID("m1"),
		}
		buffer := []chat.Chunk{
			{Seq: 5, MessageID: "m2", Content: "World"},
		}

		result := chat.Reconcile(buffer, history, nil)

		Expect(result.Merged).To(Equal(history))
		Expect(result.Streaming).ToNot(BeNil())
		Expect(result.Streaming.ID).To(Equal("m2"))
		Expect(result.Streaming.Content).To(Equal("World"))
		Expect(result.Streaming.IsFinalized()).To(BeFalse())
	})

	It("should round-trip when every buffered turn is already an anchor", func() {
		history := []chat.Message{
			chat.NewUserMessage("hi").WithID("u1"),
			chat.NewAssistantMessage("Hello").WithID("m1"),
		}
		buffer := []chat.Chunk{
			{Seq: 1, MessageID: "u1", Content: "hi", Sender: &chat.SenderInfo{SenderID: "s1"}},
			{Seq: 2, MessageID: "m1", Content: "Hello"},
			{Seq: 3, MessageID: "m1", Done: true},
		}

		result := chat.Reconcile(buffer, history, nil)

		Expect(result.Merged).To(Equal(history))
		Expect(result.Streaming).To(BeNil())
	})

	It("should preserve the relative order of anchors from history, not the buffer", func() {
		history := []chat.Message{
			chat.NewAssistantMessage("first").WithID("a1"),
			chat.NewAssistantMessage("second").WithID("a2"),
		}
		// Anchors arrive in reverse order on the buffer.
		buffer := []chat.Chunk{
			{Seq: 1, MessageID: "a2", Content: "second"},
			{Seq: 2, MessageID: "a2", Done: true},
			{Seq: 3, MessageID: "a1", Content: "first"},
			{Seq: 4, MessageID: "a1", Done: true},
		}

		result := chat.Reconcile(buffer, history, nil)

		Expect(result.Merged).To(HaveLen(2))
		Expect(result.Merged[0].ID).To(Equal("a1"))
		Expect(result.Merged[1].ID).To(Equal("a2"))
	})

	It("should keep new turns in buffer order relative to their preceding anchor", func() {
		history := []chat.Message{
			chat.NewAssistantMessage("anchored").WithID("a1"),
			chat.NewAssistantMessage("tail entry").WithID("h2"),
		}
		buffer := []chat.Chunk{
			{Seq: 1, MessageID: "n0", Content: "before", Done: true},
			{Seq: 2, MessageID: "a1", Content: "anchored"},
			{Seq: 3, MessageID: "a1", Done: true},
			{Seq: 4, MessageID: "n1", Content: "between", Done: true},
			{Seq: 5, MessageID: "h2", Content: "tail entry"},
			{Seq: 6, MessageID: "h2", Done: true},
			{Seq: 7, MessageID: "n2", Content: "after", Done: true},
		}

		result := chat.Reconcile(buffer, history, nil)

		ids := make([]string, 0, len(result.Merged))
		for _, msg := range result.Merged {
			ids = append(ids, msg.ID)
		}
		Expect(ids).To(Equal([]string{"n0", "a1", "n1", "h2", "n2"}))
	})

	It("should pass non-anchor history entries through unchanged", func() {
		history := []chat.Message{
			chat.NewUserMessage("untouched").WithID("u1"),
			chat.NewAssistantMessage("anchored").WithID("a1"),
		}
		buffer := []chat.Chunk{
			{Seq: 1, MessageID: "a1", Content: "anchored"},
			{Seq: 2, MessageID: "a1", Done: true},
		}

		result := chat.Reconcile(buffer, history, nil)

		Expect(result.Merged).To(Equal(history))
	})

	It("should enrich anchors with reasoning the stored entry lacks", func() {
		history := []chat.Message{
			chat.NewAssistantMessage("Hello").WithID("m1"),
		}
		buffer := []chat.Chunk{
			{Seq: 1, MessageID: "m1", Content: "Hello", Reasoning: "thought hard"},
			{Seq: 2, MessageID: "m1", Done: true},
		}

		result := chat.Reconcile(buffer, history, nil)

		Expect(result.Merged).To(HaveLen(1))
		Expect(result.Merged[0].Content).To(Equal("Hello"))
		Expect(result.Merged[0].Reasoning).To(Equal("thought hard"))
	})

	It("should never treat a turn with an empty id as an anchor", func() {
		history := []chat.Message{
			{Role: chat.RoleAssistant, Content: "no id here", Lifecycle: chat.LifecycleFinalized},
		}
		buffer := []chat.Chunk{
			{Seq: 1, Content: "fresh reply", Done: true},
		}

		result := chat.Reconcile(buffer, history, nil)

		Expect(result.Merged).To(HaveLen(2))
		Expect(result.Merged[0].Content).To(Equal("no id here"))
		Expect(result.Merged[1].Content).To(Equal("fresh reply"))
	})

	It("should insert an unseen pending prompt after the merged transcript", func() {
		history := []chat.Message{
			chat.NewAssistantMessage("Hello").WithID("m1"),
		}
		pending := chat.NewUserMessage("next question").WithID("p1")

		result := chat.Reconcile(nil, history, &pending)

		Expect(result.Merged).To(HaveLen(2))
		Expect(result.Merged[1].ID).To(Equal("p1"))
	})

	It("should drop a pending prompt that already reached history", func() {
		history := []chat.Message{
			chat.NewUserMessage("next question").WithID("p1"),
		}
		pending := chat.NewUserMessage("next question").WithID("p1")

		result := chat.Reconcile(nil, history, &pending)

		Expect(result.Merged).To(Equal(history))
	})

	It("should place a pending prompt before its already-buffered reply", func() {
		history := []chat.Message{
			chat.NewAssistantMessage("earlier").WithID("a1"),
		}
		pending := chat.NewUserMessage("what next?").WithID("p1")
		buffer := []chat.Chunk{
			{Seq: 1, MessageID: "a1", Content: "earlier"},
			{Seq: 2, MessageID: "a1", Done: true},
			{Seq: 3, MessageID: "r1", Content: "the reply", Done: true},
		}

		result := chat.Reconcile(buffer, history, &pending)

		ids := make([]string, 0, len(result.Merged))
		for _, msg := range result.Merged {
			ids = append(ids, msg.ID)
		}
		Expect(ids).To(Equal([]string{"a1", "p1", "r1"}))
	})

	It("should drop a pending prompt that surfaced as a new buffered turn", func() {
		pending := chat.NewUserMessage("hi").WithID("p1")
		buffer := []chat.Chunk{
			{Seq: 1, MessageID: "p1", Content: "hi", Sender: &chat.SenderInfo{SenderID: "s1"}},
		}

		result := chat.Reconcile(buffer, nil, &pending)

		Expect(result.Merged).To(HaveLen(1))
		Expect(result.Merged[0].ID).To(Equal("p1"))
	})

	It("should strip an in-progress turn whose content was already fully persisted", func() {
		history := []chat.Message{
			chat.NewAssistantMessage("Hello world").WithID("m1"),
		}
		buffer := []chat.Chunk{
			{Seq: 1, MessageID: "m2", Content: "Hello world"},
		}

		result := chat.Reconcile(buffer, history, nil)

		Expect(result.Merged).To(Equal(history))
		Expect(result.Streaming).To(BeNil())
	})

	It("should keep an in-progress turn that only partially overlaps history", func() {
		history := []chat.Message{
			chat.NewAssistantMessage("Hello world").WithID("m1"),
		}
		buffer := []chat.Chunk{
			{Seq: 1, MessageID: "m2", Content: "Hello"},
		}

		result := chat.Reconcile(buffer, history, nil)

		Expect(result.Streaming).ToNot(BeNil())
		Expect(result.Streaming.Content).To(Equal("Hello"))
	})

	It("should deduplicate a new turn delivered twice", func() {
		buffer := []chat.Chunk{
			{Seq: 1, MessageID: "n1", Content: "once", Done: true},
			{Seq: 2, MessageID: "n1", Content: "once", Done: true},
		}

		result := chat.Reconcile(buffer, nil, nil)

		Expect(result.Merged).To(HaveLen(1))
	})
})
