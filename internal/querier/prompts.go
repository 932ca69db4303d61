package querier

const systemPrompt = `You are a helpful assistant answering questions about the user's documents. ` +
	`Be accurate and concise. If the answer is not in the provided context, say so.`

const directSystemPrompt = `You are a helpful assistant. Be accurate and concise.`

const condensePrompt = `Given the conversation below and a follow-up message from the user, ` +
	`rewrite the follow-up as a standalone question that keeps every detail needed from the conversation. ` +
	`Reply with the question only.

Conversation:
%s
Follow-up message:
%s

Standalone question:`

const hydePrompt = `Write a short passage that answers the question below. ` +
	`Include as many key details as possible.

Question: %s

Passage:`

const answerPrompt = `Context information is below. Each chunk starts with its NODE_ID.
---------------------
%s
---------------------
%s

Using the context information and not prior knowledge, answer the query.
Query: %s
Answer:`
