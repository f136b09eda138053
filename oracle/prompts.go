package oracle

import "github.com/sweetpotato0/adaptiverag/prompt"

// Template names used across the retrieval and grading layers.
const (
	TmplClassifyQuery    = "classify_query"
	TmplEnhanceQuery     = "enhance_query"
	TmplSubQueries       = "sub_queries"
	TmplViewpoints       = "viewpoints"
	TmplContextualize    = "contextualize_query"
	TmplRankRelevance    = "rank_relevance"
	TmplSelectDiverse    = "select_diverse"
	TmplSelectOpinions   = "select_opinions"
	TmplGradeRelevance   = "grade_relevance"
	TmplGradeGrounded    = "grade_groundedness"
	TmplGradeAnswer      = "grade_answer"
	TmplRewriteQuestion  = "rewrite_question"
	TmplRAGGenerate      = "rag_generate"
	TmplGradeSentiment   = "grade_sentiment"
)

// DefaultPrompts returns a manager preloaded with every instruction template
// the service uses. Callers may re-register any name to override wording.
func DefaultPrompts() *prompt.Manager {
	m := prompt.NewManager()

	m.MustRegisterString(TmplClassifyQuery,
		"Classify the following query into one of these categories: "+
			"Factual, Analytical, Opinion, or Contextual.\n\n"+
			"Query: {{.query}}\n\nCategory:")

	m.MustRegisterString(TmplEnhanceQuery,
		"Enhance this factual query for better information retrieval: {{.query}}")

	m.MustRegisterString(TmplSubQueries,
		"Generate {{.k}} sub-questions for: {{.query}}\n"+
			"Return JSON only: {\"sub_queries\": [\"...\"]}")

	m.MustRegisterString(TmplViewpoints,
		"Identify {{.k}} distinct viewpoints or perspectives on the topic: {{.query}}\n"+
			"Return one viewpoint per line.")

	m.MustRegisterString(TmplContextualize,
		"Given the user context: {{.context}}\n"+
			"Reformulate the query to best address the user's needs: {{.query}}")

	m.MustRegisterString(TmplRankRelevance,
		"On a scale of 1-10, how relevant is this document to the query: '{{.query}}'?\n"+
			"Document: {{.document}}\nRelevance score:")

	m.MustRegisterString(TmplSelectDiverse,
		"Select the most diverse and relevant set of {{.k}} documents for the query: '{{.query}}'\n"+
			"Documents: {{.documents}}\n"+
			"Return only the indices of selected documents as a list of integers.")

	m.MustRegisterString(TmplSelectOpinions,
		"Classify these documents into distinct opinions on '{{.query}}' and select "+
			"the {{.k}} most representative and diverse viewpoints:\n"+
			"Documents: {{.documents}}\nSelected indices:")

	m.MustRegisterString(TmplGradeRelevance,
		"You are a grader assessing relevance of a retrieved document to a user question. "+
			"If the document contains keyword(s) or semantic meaning related to the user question, "+
			"grade it as relevant. Give a binary score 'yes' or 'no' to indicate whether the "+
			"document is relevant to the question.\n\n"+
			"Retrieved document:\n\n{{.document}}\n\nUser question: {{.question}}")

	m.MustRegisterString(TmplGradeGrounded,
		"You are a grader assessing whether an LLM generation is grounded in / supported by "+
			"a set of retrieved facts. Give a binary score 'yes' or 'no'. 'Yes' means that the "+
			"answer is grounded in / supported by the set of facts.\n\n"+
			"Set of facts:\n\n{{.documents}}\n\nLLM generation: {{.generation}}")

	m.MustRegisterString(TmplGradeAnswer,
		"You are a grader assessing whether an answer addresses / resolves a question. "+
			"Give a binary score 'yes' or 'no'. 'Yes' means that the answer resolves the question.\n\n"+
			"User question:\n\n{{.question}}\n\nLLM generation: {{.generation}}")

	m.MustRegisterString(TmplRewriteQuestion,
		"You are a question re-writer that converts an input question to a better version "+
			"that is optimized for vectorstore retrieval. Look at the input and try to reason "+
			"about the underlying semantic intent / meaning.\n\n"+
			"Here is the initial question:\n\n{{.question}}\n\nFormulate an improved question.")

	m.MustRegisterString(TmplRAGGenerate,
		"You are an assistant for question-answering tasks. Use the following pieces of "+
			"retrieved context to answer the question. If you don't know the answer, just say "+
			"that you don't know. Keep the answer concise.\n\n"+
			"Question: {{.question}}\nContext: {{.context}}\nAnswer:")

	m.MustRegisterString(TmplGradeSentiment,
		"Classify the sentiment of the following text as positive, negative, or neutral, "+
			"and give a confidence between 0 and 1.\n"+
			"Return JSON only: {\"label\": \"...\", \"score\": 0.0}\n\n"+
			"Text: {{.text}}")

	return m
}
