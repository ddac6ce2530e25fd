package patterns

// =============================================================================
// PATTERN DEFINITIONS BY CATEGORY
// Registered once at first registry use. Severities are risk contributions in
// [0,100]; the pattern scanner normalizes them into its [0,1] score.
// =============================================================================

// --- INSTRUCTION OVERRIDE ---
func (r *Registry) registerInstructionOverridePatterns() {
	cat := CategoryInstructionOverride

	r.register("ignore_previous", `(?i)ignore\s+(all\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|rules?|directives?)`, cat, 90, "Direct instruction displacement")
	r.register("disregard_previous", `(?i)disregard\s+(all\s+)?(previous|prior|above|earlier|your)\s+(instructions?|prompts?|rules?|training)`, cat, 90, "Direct instruction displacement")
	r.register("forget_instructions", `(?i)forget\s+(everything|all|your)\s+(you|instructions?|rules?|training)`, cat, 85, "Memory reset framing")
	r.register("new_instructions", `(?i)(new|updated|revised)\s+instructions?\s*[:\-]`, cat, 70, "Injected replacement instructions")
	r.register("override_system", `(?i)override\s+(the\s+)?(system|safety|content)\s+(prompt|filter|rules?|settings?)`, cat, 85, "System override request")
	r.register("disable_safety", `(?i)(disable|bypass|remove|turn\s+off)\s+(your\s+)?(safety|content|ethical|moral)\s+(filters?|guidelines?|restrictions?|guardrails?)`, cat, 90, "Safety bypass request")
	r.register("from_now_on", `(?i)from\s+now\s+on[,\s]+(you|ignore|act|pretend|respond)`, cat, 60, "Persistent behavior override")
	r.register("system_tag", `(?i)<\s*/?\s*(system|sys|admin)\s*>`, cat, 75, "Fake system-role markup")
	r.register("inst_tag", `(?i)\[\s*/?\s*(INST|SYSTEM|ADMIN)\s*\]`, cat, 75, "Fake instruction delimiter")

	r.register("developer_mode", `(?i)(developer|debug|god|sudo|root)\s+mode`, cat, 70, "Privileged-mode framing")
	r.register("admin_claim", `(?i)i\s+am\s+(the|an?|your)\s+(developer|administrator|admin|creator|engineer)`, cat, 65, "Authority impersonation")
}

// --- JAILBREAK / PERSONA ESCAPE ---
func (r *Registry) registerJailbreakPatterns() {
	cat := CategoryJailbreak

	r.register("dan_persona", `(?i)\b(DAN|do\s+anything\s+now)\b`, cat, 80, "DAN-style persona")
	r.register("pretend_unrestricted", `(?i)(pretend|imagine|act\s+as\s+if)\s+(you\s+)?(are|were|have)\s+(an?\s+)?(unrestricted|unfiltered|uncensored|jailbroken)`, cat, 85, "Unrestricted persona request")
	r.register("act_as_no_rules", `(?i)act\s+as\s+(an?\s+)?\w*\s*(ai|model|assistant)?\s*(with(out)?|that\s+has)\s+no\s+(rules?|restrictions?|limitations?|filters?)`, cat, 85, "No-rules persona request")
	r.register("roleplay_evil", `(?i)(role.?play|act)\s+as\s+(an?\s+)?(evil|malicious|amoral|rogue)`, cat, 75, "Adversarial persona request")
	r.register("no_longer_ai", `(?i)you\s+are\s+no\s+longer\s+(an?\s+)?(ai|assistant|language\s+model)`, cat, 75, "Identity displacement")
	r.register("hypothetical_shield", `(?i)(hypothetically|in\s+a\s+fictional\s+(world|story|scenario))[,\s]+(how|what|describe)`, cat, 50, "Fiction-framed elicitation")
	r.register("opposite_day", `(?i)opposite\s+day`, cat, 55, "Inversion framing")
	r.register("no_refusal", `(?i)(never|don'?t|do\s+not)\s+(refuse|decline|say\s+no|apologi[sz]e)`, cat, 65, "Refusal suppression")
}

// --- PROMPT EXTRACTION ---
func (r *Registry) registerPromptExtractionPatterns() {
	cat := CategoryPromptExtraction

	r.register("reveal_system_prompt", `(?i)(reveal|show|print|repeat|output|display)\s+(me\s+)?(your|the)\s+(system|initial|original|hidden)\s+(prompt|instructions?|message|directives?)`, cat, 85, "Direct system prompt request")
	r.register("what_instructions", `(?i)what\s+(are|were)\s+your\s+(initial\s+|original\s+|system\s+)?instructions`, cat, 75, "Instruction interrogation")
	r.register("repeat_above", `(?i)repeat\s+(everything|the\s+text|all\s+text|words?)\s+(above|before)`, cat, 70, "Context replay request")
	r.register("verbatim_dump", `(?i)(verbatim|word\s+for\s+word|exactly\s+as\s+written)`, cat, 45, "Verbatim replay qualifier")
	r.register("begin_with_prompt", `(?i)begin\s+your\s+(response|answer|reply)\s+with\s+['"]?(you\s+are|system)`, cat, 70, "Prompt-echo coercion")
	r.register("hidden_directives", `(?i)(hidden|secret|confidential)\s+(directives?|instructions?|prompts?|rules?)`, cat, 65, "Hidden-directive probing")
}

// --- OBFUSCATION / SMUGGLING ---
func (r *Registry) registerObfuscationPatterns() {
	cat := CategoryObfuscation

	r.register("base64_blob", `[A-Za-z0-9+/]{60,}={0,2}`, cat, 50, "Long base64-like blob")
	r.register("decode_request", `(?i)(decode|convert)\s+(this|the\s+following)\s+(base64|hex|rot13|binary)`, cat, 65, "Encoded payload with decode request")
	r.register("hex_blob", `(?:0x)?(?:[0-9a-fA-F]{2}[\s,]){20,}`, cat, 50, "Long hex byte sequence")
	r.register("zero_width", "[\u200B\u200C\u200D\u2060\uFEFF]", cat, 75, "Zero-width character smuggling")
	r.register("leetspeak_ignore", `(?i)[i1!][g9][n][o0][r][e3]\s+[p][r][e3][v][i1!][o0][u][s5]`, cat, 70, "Leetspeak-obfuscated override")
	r.register("spaced_letters", `(?i)\b([a-z]\s){8,}[a-z]\b`, cat, 55, "Letter-spacing obfuscation")
	r.register("markdown_injection", `(?i)!\[[^\]]*\]\(https?://[^)]+\)`, cat, 45, "Markdown image callback")
}

// --- EXFILTRATION ---
func (r *Registry) registerExfiltrationPatterns() {
	cat := CategoryExfiltration

	r.register("send_to_url", `(?i)(send|post|submit|forward|transmit)\s+(this|it|the\s+(conversation|response|data|output))\s+to\s+https?://`, cat, 85, "Explicit exfiltration instruction")
	r.register("webhook_url", `(?i)https?://[^\s]*\b(webhook|hooks?|collect|exfil|callback)\b`, cat, 70, "Collector-style URL")
	r.register("embed_in_link", `(?i)(append|embed|include|encode)\s+(the\s+)?(conversation|history|response|secrets?|data)\s+(in|into|to)\s+(the\s+)?(url|link|query)`, cat, 80, "Data-in-URL construction")
	r.register("email_out", `(?i)(email|mail|send)\s+(this|it|the\s+(output|conversation|data))\s+to\s+[\w.+-]+@`, cat, 75, "Email exfiltration instruction")
	r.register("api_key_probe", `(?i)(what|show|print|reveal)\s+(is\s+)?(your|the)\s+(api\s+key|access\s+token|credentials?)`, cat, 80, "Credential probing")
}
