package chat_test

import (
	"github.com/finchley/parley/pkg/chat"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Accumulate", func() {
	It("should concatenate content deltas for one message id", func() {
		acc := chat.AccumulateAll([]chat.Chunk{
			{Seq: 1, MessageID: "m1", Content: "Hel"},
			{Seq: 2, MessageID: "m1", Content: "lo"},
		})

		Expect(acc.Completed).To(BeEmpty())
		Expect(acc.Current).ToNot(BeNil())
		Expect(acc.Current.Content).To(Equal("Hello"))
		Expect(acc.Current.ID).To(Equal("m1"))
	})

	It("should finalize the turn on a completion marker", func() {
		acc := chat.AccumulateAll([]chat.Chunk{
			{Seq: 1, MessageID: "m1", Content: "Hel"},
			{Seq: 2, MessageID: "m1", Content: "lo"},
			{Seq: 3, MessageID: "m1", Done: true},
		})

		Expect(acc.Current).To(BeNil())
		Expect(acc.Completed).To(HaveLen(1))
		Expect(acc.Completed[0].Content).To(Equal("Hello"))
		Expect(acc.Completed[0].IsFinalized()).To(BeTrue())
	})

	It("should emit sender-bearing chunks immediately as user turns", func() {
		acc := chat.AccumulateAll([]chat.Chunk{
			{Seq: 1, MessageID: "m0", Content: "hi", Sender: &chat.SenderInfo{SenderID: "s1"}},
			{Seq: 2, MessageID: "m1", Content: "reply so far"},
		})

		Expect(acc.Completed).To(HaveLen(1))
		Expect(acc.Completed[0].IsUser()).To(BeTrue())
		Expect(acc.Completed[0].SenderID).To(Equal("s1"))
		Expect(acc.Current.Content).To(Equal("reply so far"))
	})

	It("should not merge a user turn into the in-progress assistant turn", func() {
		acc := chat.AccumulateAll([]chat.Chunk{
			{Seq: 1, MessageID: "m1", Content: "partial"},
			{Seq: 2, MessageID: "u1", Content: "interjection", Sender: &chat.SenderInfo{SenderID: "s2"}},
			{Seq: 3, MessageID: "m1", Content: " reply"},
		})

		Expect(acc.Completed).To(HaveLen(1))
		Expect(acc.Completed[0].IsUser()).To(BeTrue())
		Expect(acc.Current.Content).To(Equal("partial reply"))
	})

	It("should finalize the in-progress turn when the message id changes", func() {
		acc := chat.AccumulateAll([]chat.Chunk{
			{Seq: 1, MessageID: "m1", Content: "first"},
			{Seq: 2, MessageID: "m2", Content: "second"},
		})

		Expect(acc.Completed).To(HaveLen(1))
		Expect(acc.Completed[0].ID).To(Equal("m1"))
		Expect(acc.Completed[0].Content).To(Equal("first"))
		Expect(acc.Current.ID).To(Equal("m2"))
		Expect(acc.Current.Content).To(Equal("second"))
	})

	It("should record the error on an error marker", func() {
		acc := chat.AccumulateAll([]chat.Chunk{
			{Seq: 1, MessageID: "m1", Content: "part"},
			{Seq: 2, MessageID: "m1", Err: "backend unavailable"},
		})

		Expect(acc.Current).To(BeNil())
		Expect(acc.Completed).To(HaveLen(1))
		Expect(acc.Completed[0].Err).To(Equal("backend unavailable"))
	})

	It("should discard an empty turn that terminates", func() {
		acc := chat.AccumulateAll([]chat.Chunk{
			{Seq: 1, MessageID: "m1", Done: true},
		})

		Expect(acc.Completed).To(BeEmpty())
		Expect(acc.Current).To(BeNil())
	})

	It("should accumulate reasoning separately from content", func() {
		acc := chat.AccumulateAll([]chat.Chunk{
			{Seq: 1, MessageID: "m1", Reasoning: "step one. "},
			{Seq: 2, MessageID: "m1", Reasoning: "step two.", Content: "Answer"},
		})

		Expect(acc.Current.Reasoning).To(Equal("step one. step two."))
		Expect(acc.Current.Content).To(Equal("Answer"))
	})

	It("should collect tool call deltas in order", func() {
		acc := chat.AccumulateAll([]chat.Chunk{
			{Seq: 1, MessageID: "m1", ToolCalls: []chat.ToolCall{{Function: chat.ToolFunction{Name: "search"}}}},
			{Seq: 2, MessageID: "m1", ToolCalls: []chat.ToolCall{{Function: chat.ToolFunction{Name: "fetch"}}}},
			{Seq: 3, MessageID: "m1", Done: true},
		})

		Expect(acc.Completed).To(HaveLen(1))
		Expect(acc.Completed[0].ToolCalls).To(HaveLen(2))
		Expect(acc.Completed[0].ToolCalls[0].Function.Name).To(Equal("search"))
		Expect(acc.Completed[0].ToolCalls[1].Function.Name).To(Equal("fetch"))
	})

	It("should skip malformed chunks", func() {
		acc := chat.AccumulateAll([]chat.Chunk{
			{Seq: 1, MessageID: "m1", Content: "Hel"},
			{Seq: 2}, // no payload, no markers
			{Seq: 3, MessageID: "m1", Content: "lo"},
		})

		Expect(acc.Current.Content).To(Equal("Hello"))
	})

	It("should be restartable: replaying identical input yields identical output", func() {
		chunks := []chat.Chunk{
			{Seq: 1, MessageID: "u1", Content: "hi", Sender: &chat.SenderInfo{SenderID: "s1"}},
			{Seq: 2, MessageID: "m1", Content: "Hel"},
			{Seq: 3, MessageID: "m1", Content: "lo"},
			{Seq: 4, MessageID: "m1", Done: true},
			{Seq: 5, MessageID: "m2", Content: "next"},
		}

		first := chat.AccumulateAll(chunks)
		second := chat.AccumulateAll(chunks)

		Expect(second.Completed).To(HaveLen(len(first.Completed)))
		for i := range first.Completed {
			Expect(second.Completed[i].ID).To(Equal(first.Completed[i].ID))
			Expect(second.Completed[i].Content).To(Equal(first.Completed[i].Content))
		}
		Expect(second.Current.Content).To(Equal(first.Current.Content))
	})

	It("should not mutate the input accumulation", func() {
		base := chat.AccumulateAll([]chat.Chunk{
			{Seq: 1, MessageID: "m1", Content: "base"},
		})

		_ = chat.Accumulate(base, chat.Chunk{Seq: 2, MessageID: "m1", Content: " more"})

		Expect(base.Current.Content).To(Equal("base"))
	})
})
