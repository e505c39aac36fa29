package browser

// enumerateScript stamps every interactive element with a data-agent-id that
// survives until the document is replaced, and reports each one. Elements
// below the minimum rendered size or hidden by style are reported with
// visible=false so Lookup can still explain why they are not actionable.
const enumerateScript = `() => {
	const selector = 'a, button, input, select, textarea, label, [role="button"], [role="link"], [role="menuitem"], [role="tab"], [onclick]';
	const landmarkOf = (el) => {
		const host = el.closest('nav, header, footer, main, aside, form, [role="navigation"], [role="banner"], [role="contentinfo"], [role="main"], [role="complementary"], [role="dialog"], dialog');
		if (!host) return '';
		const role = host.getAttribute('role');
		if (role) return role;
		return host.tagName.toLowerCase();
	};
	const newID = () => 'agent-' + Math.random().toString(36).slice(2, 9);
	const clip = (s) => (s || '').replace(/\s+/g, ' ').trim().slice(0, 100);
	const out = [];
	const seen = new Set();
	for (const el of document.querySelectorAll(selector)) {
		let id = el.getAttribute('data-agent-id');
		while (!id || seen.has(id)) {
			id = newID();
			el.setAttribute('data-agent-id', id);
		}
		seen.add(id);

		const rect = el.getBoundingClientRect();
		const style = window.getComputedStyle(el);
		const visible = rect.width >= 5 && rect.height >= 5 &&
			style.visibility !== 'hidden' && style.display !== 'none' && style.opacity !== '0';

		let label = '';
		if (el.labels && el.labels.length > 0) label = el.labels[0].innerText;
		if (!label) label = el.getAttribute('aria-label') || el.placeholder || '';

		out.push({
			id: id,
			tag: el.tagName.toLowerCase(),
			role: el.getAttribute('role') || '',
			inputType: el.tagName === 'INPUT' ? (el.type || 'text') : '',
			text: clip(el.innerText || el.value || ''),
			label: clip(label),
			title: clip(el.getAttribute('title')),
			href: el.tagName === 'A' ? (el.href || '') : '',
			identifier: clip(el.id || el.getAttribute('name') || ''),
			classes: clip(typeof el.className === 'string' ? el.className : ''),
			landmark: landmarkOf(el),
			visible: visible,
			disabled: !!el.disabled || el.getAttribute('aria-disabled') === 'true',
			boundingBox: { x: rect.x, y: rect.y, width: rect.width, height: rect.height }
		});
	}
	return out;
}`

// contentScript reads the text and structure used for page-type
// classification, gate detection and guided discovery.
const contentScript = `() => {
	const isShown = (el) => {
		const r = el.getBoundingClientRect();
		const s = window.getComputedStyle(el);
		return r.width > 0 && r.height > 0 && s.visibility !== 'hidden' && s.display !== 'none';
	};
	const headings = Array.from(document.querySelectorAll('h1, h2, h3'))
		.filter(isShown)
		.map(h => (h.innerText || '').trim())
		.filter(Boolean)
		.slice(0, 20);
	const inputs = Array.from(document.querySelectorAll('input:not([type=hidden]), textarea, select')).filter(isShown);

	let repeated = 0;
	for (const list of document.querySelectorAll('ul, ol, tbody, [role="list"], [role="grid"]')) {
		const kids = Array.from(list.children).filter(isShown);
		if (kids.length < 3) continue;
		const tag = kids[0].tagName;
		const same = kids.filter(k => k.tagName === tag).length;
		if (same > repeated) repeated = same;
	}

	const dialog = Array.from(document.querySelectorAll('dialog[open], [role="dialog"], [role="alertdialog"], [aria-modal="true"]')).find(isShown);

	const advance = /^(next|continue|proceed|submit)\b/i;
	const disabledAdvance = Array.from(document.querySelectorAll('button, input[type=submit], [role="button"]'))
		.filter(isShown)
		.some(b => advance.test((b.innerText || b.value || '').trim()) && (b.disabled || b.getAttribute('aria-disabled') === 'true'));

	const navRoots = document.querySelectorAll('nav, [role="navigation"], header');
	const navLinks = [];
	for (const root of navRoots) {
		for (const a of root.querySelectorAll('a, [role="link"], [role="menuitem"]')) {
			const t = (a.innerText || a.getAttribute('aria-label') || '').replace(/\s+/g, ' ').trim();
			if (t && isShown(a) && !navLinks.includes(t)) navLinks.push(t);
			if (navLinks.length >= 40) break;
		}
	}

	return {
		url: location.href,
		title: document.title,
		headings: headings,
		bodyText: (document.body ? document.body.innerText : '').replace(/\s+/g, ' ').slice(0, 4000),
		visibleInputs: inputs.length,
		hasPasswordField: inputs.some(i => i.type === 'password'),
		hasFileInput: !!document.querySelector('input[type=file]'),
		repeatedBlocks: repeated,
		dialogText: dialog ? (dialog.innerText || '').replace(/\s+/g, ' ').slice(0, 1000) : '',
		disabledAdvance: disabledAdvance,
		navigationLinks: navLinks,
		hasNavigation: navRoots.length > 0
	};
}`

// stateScript reads the fingerprint compared before and after an action.
const stateScript = `() => {
	const h = document.querySelector('h1') || document.querySelector('h2');
	const panels = document.querySelectorAll('dialog[open], [role="dialog"], [role="alertdialog"], [aria-expanded="true"], [role="tabpanel"]:not([hidden]), [role="menu"]');
	return {
		url: location.href,
		title: document.title,
		topHeading: h ? (h.innerText || '').replace(/\s+/g, ' ').trim().slice(0, 100) : '',
		panelCount: panels.length,
		scrollY: Math.round(window.scrollY || document.documentElement.scrollTop || 0)
	};
}`

// setValueScript assigns a value to a select and fires the change events a
// framework listens for.
const setValueScript = `(id, value) => {
	const el = document.querySelector('[data-agent-id="' + id + '"]');
	if (!el) return false;
	el.value = value;
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
}`
