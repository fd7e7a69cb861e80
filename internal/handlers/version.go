package handlers

const Version = "0.3.1"
